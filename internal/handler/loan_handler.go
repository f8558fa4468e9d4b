// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/openbare/internal/mailer"
	"github.com/hitoshi/openbare/internal/middleware"
	"github.com/hitoshi/openbare/internal/model"
)

// LoanServiceInterface は貸出ハンドラーが必要とするサービスインターフェース。
type LoanServiceInterface interface {
	// Checkout は貸出を作成し、認証情報付きの貸出を返す。
	Checkout(ctx context.Context, userID, loginName, kindKey string) (*model.Lendable, error)
	// Renew は貸出の返却期限を延長する。
	Renew(ctx context.Context, loanID, userID string) (*model.Lendable, error)
	// Checkin は貸出を返却する。
	Checkin(ctx context.Context, loanID, userID string) error
	// ListCheckedOutBy はユーザーのアクティブな貸出一覧を返す。
	ListCheckedOutBy(ctx context.Context, userID string) ([]*model.Lendable, error)
}

// LoanFinder は貸出の所有権確認のためのインターフェース。
// repository.LendableRepositoryの部分集合として定義する。
type LoanFinder interface {
	FindActiveByIDAndUser(ctx context.Context, id, userID string) (*model.Lendable, error)
}

// ResourceLister は貸出に紐づくリソース一覧取得のためのインターフェース。
// repository.ResourceRepositoryの部分集合として定義する。
type ResourceLister interface {
	ListByLendable(ctx context.Context, lendableID string) ([]*model.Resource, error)
}

// LoanHandlerConfig は貸出ハンドラーの設定。
type LoanHandlerConfig struct {
	// MailFrom は延長依頼メールの差出人。
	MailFrom string
	// AdminEmails は延長依頼メールの宛先。
	AdminEmails []string
}

// LoanHandler は貸出管理のHTTPハンドラー。
type LoanHandler struct {
	service   LoanServiceInterface
	finder    LoanFinder
	resources ResourceLister
	sender    mailer.Sender
	config    LoanHandlerConfig
}

// NewLoanHandler はLoanHandlerを生成する。
func NewLoanHandler(service LoanServiceInterface, finder LoanFinder, resources ResourceLister, sender mailer.Sender, config LoanHandlerConfig) *LoanHandler {
	return &LoanHandler{
		service:   service,
		finder:    finder,
		resources: resources,
		sender:    sender,
		config:    config,
	}
}

// checkoutRequest はチェックアウトリクエストのボディ。
type checkoutRequest struct {
	Kind string `json:"kind"`
}

// extensionRequest は延長依頼リクエストのボディ。
type extensionRequest struct {
	Reason string `json:"reason"`
}

// loanResponse は貸出情報のAPIレスポンス。
// Credentialsはチェックアウト直後のレスポンスにのみ含まれる。
type loanResponse struct {
	ID                string                  `json:"id"`
	Kind              string                  `json:"kind"`
	Username          string                  `json:"username"`
	CheckedOutOn      time.Time               `json:"checked_out_on"`
	DueOn             time.Time               `json:"due_on"`
	RenewalsRemaining int                     `json:"renewals_remaining"`
	MaxDueDate        *time.Time              `json:"max_due_date,omitempty"`
	Credentials       []model.CredentialField `json:"credentials,omitempty"`
	// CredentialsFilename は認証情報を保存する際の推奨ファイル名。
	CredentialsFilename string `json:"credentials_filename,omitempty"`
}

// resourceResponse はリソース台帳エントリのAPIレスポンス。
type resourceResponse struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	ResourceID string     `json:"resource_id"`
	Scope      string     `json:"scope"`
	Acquired   *time.Time `json:"acquired,omitempty"`
	Preserve   *time.Time `json:"preserve,omitempty"`
	Released   *time.Time `json:"released,omitempty"`
	Reaped     bool       `json:"reaped"`
}

// ListLoans はユーザーのアクティブな貸出一覧を返す。
// GET /api/loans
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	loans, err := h.service.ListCheckedOutBy(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]loanResponse, 0, len(loans))
	for _, loan := range loans {
		responses = append(responses, toLoanResponse(loan))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// Checkout は新しい貸出を作成する。
// POST /api/loans
// レスポンスの認証情報はこのときにしか提示されない。
func (h *LoanHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if req.Kind == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "貸出種別が指定されていません。",
			Category: "validation",
			Action:   "kindフィールドに貸出種別のキーを指定してください。",
		})
		return
	}

	loan, err := h.service.Checkout(r.Context(), userID, userID, req.Kind)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toLoanResponse(loan))
}

// Renew は貸出の返却期限を延長する。
// POST /api/loans/:id/renew
func (h *LoanHandler) Renew(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	loanID := chi.URLParam(r, "id")

	loan, err := h.service.Renew(r.Context(), loanID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toLoanResponse(loan))
}

// Checkin は貸出を返却する。
// DELETE /api/loans/:id
// クラウド側クリーンアップの失敗は返却自体が成立していれば
// エラーではなく警告として200で返す。
func (h *LoanHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	loanID := chi.URLParam(r, "id")

	if err := h.service.Checkin(r.Context(), loanID, userID); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeTeardownFailed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"warning": apiErr.Message,
				"action":  apiErr.Action,
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListResources は貸出に紐づくリソース台帳を返す。
// GET /api/loans/:id/resources
func (h *LoanHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	loanID := chi.URLParam(r, "id")

	loan, err := h.finder.FindActiveByIDAndUser(r.Context(), loanID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if loan == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewLoanNotFoundError(loanID))
		return
	}

	resources, err := h.resources.ListByLendable(r.Context(), loan.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]resourceResponse, 0, len(resources))
	for _, res := range resources {
		responses = append(responses, resourceResponse{
			ID:         res.ID,
			Kind:       string(res.Kind),
			ResourceID: res.ResourceID,
			Scope:      res.Scope,
			Acquired:   res.Acquired,
			Preserve:   res.Preserve,
			Released:   res.Released,
			Reaped:     res.Reaped,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// RequestExtension は延長回数を使い切った貸出の追加延長を
// 管理者に依頼する。
// POST /api/loans/:id/extension-request
func (h *LoanHandler) RequestExtension(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	loanID := chi.URLParam(r, "id")

	var req extensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if req.Reason == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "延長理由が指定されていません。",
			Category: "validation",
			Action:   "reasonフィールドに延長理由を記入してください。",
		})
		return
	}

	loan, err := h.finder.FindActiveByIDAndUser(r.Context(), loanID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if loan == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewLoanNotFoundError(loanID))
		return
	}

	if len(h.config.AdminEmails) == 0 {
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "EXTENSION_UNAVAILABLE",
			Message:  "延長依頼の送信先が設定されていません。",
			Category: "system",
			Action:   "管理者に直接連絡してください。",
		})
		return
	}

	kindName := loan.Kind
	if kind := model.KindOf(loan.Kind); kind != nil {
		kindName = kind.Name
	}

	msg := mailer.NewExtensionRequest(h.config.MailFrom, h.config.AdminEmails, loan, kindName, userID, req.Reason)
	if err := h.sender.Send(r.Context(), msg); err != nil {
		slog.Error("延長依頼メールの送信に失敗しました",
			slog.String("lendable_id", loan.ID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "MAIL_FAILED",
			Message:  "延長依頼メールの送信に失敗しました。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// --- ヘルパー関数 ---

// toLoanResponse はmodel.LendableからAPIレスポンスに変換する。
func toLoanResponse(loan *model.Lendable) loanResponse {
	resp := loanResponse{
		ID:                loan.ID,
		Kind:              loan.Kind,
		Username:          loan.Username,
		CheckedOutOn:      loan.CheckedOutOn,
		DueOn:             loan.DueOn,
		RenewalsRemaining: loan.RenewalsRemaining,
	}
	if kind := model.KindOf(loan.Kind); kind != nil {
		maxDue := loan.MaxDueDate(kind)
		resp.MaxDueDate = &maxDue
	}
	if loan.Credentials != nil {
		resp.Credentials = loan.Credentials.Fields()
		resp.CredentialsFilename = fmt.Sprintf("openbare-credentials-%s-%s.json", loan.ID, loan.Kind)
	}
	return resp
}

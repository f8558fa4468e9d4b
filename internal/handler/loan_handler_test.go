package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/openbare/internal/mailer"
	"github.com/hitoshi/openbare/internal/middleware"
	"github.com/hitoshi/openbare/internal/model"
)

// mockLoanService はLoanServiceInterfaceのモック実装。
type mockLoanService struct {
	checkoutFunc         func(ctx context.Context, userID, loginName, kindKey string) (*model.Lendable, error)
	renewFunc            func(ctx context.Context, loanID, userID string) (*model.Lendable, error)
	checkinFunc          func(ctx context.Context, loanID, userID string) error
	listCheckedOutByFunc func(ctx context.Context, userID string) ([]*model.Lendable, error)
}

func (m *mockLoanService) Checkout(ctx context.Context, userID, loginName, kindKey string) (*model.Lendable, error) {
	if m.checkoutFunc != nil {
		return m.checkoutFunc(ctx, userID, loginName, kindKey)
	}
	return nil, nil
}

func (m *mockLoanService) Renew(ctx context.Context, loanID, userID string) (*model.Lendable, error) {
	if m.renewFunc != nil {
		return m.renewFunc(ctx, loanID, userID)
	}
	return nil, nil
}

func (m *mockLoanService) Checkin(ctx context.Context, loanID, userID string) error {
	if m.checkinFunc != nil {
		return m.checkinFunc(ctx, loanID, userID)
	}
	return nil
}

func (m *mockLoanService) ListCheckedOutBy(ctx context.Context, userID string) ([]*model.Lendable, error) {
	if m.listCheckedOutByFunc != nil {
		return m.listCheckedOutByFunc(ctx, userID)
	}
	return nil, nil
}

// mockLoanFinder はLoanFinderのモック実装。
type mockLoanFinder struct {
	findFunc func(ctx context.Context, id, userID string) (*model.Lendable, error)
}

func (m *mockLoanFinder) FindActiveByIDAndUser(ctx context.Context, id, userID string) (*model.Lendable, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, id, userID)
	}
	return nil, nil
}

// mockResourceLister はResourceListerのモック実装。
type mockResourceLister struct {
	listFunc func(ctx context.Context, lendableID string) ([]*model.Resource, error)
}

func (m *mockResourceLister) ListByLendable(ctx context.Context, lendableID string) ([]*model.Resource, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, lendableID)
	}
	return nil, nil
}

// mockSender はmailer.Senderのモック実装。
type mockSender struct {
	sendFunc func(ctx context.Context, msg *mailer.Message) error
	sent     []*mailer.Message
}

func (m *mockSender) Send(ctx context.Context, msg *mailer.Message) error {
	if m.sendFunc != nil {
		if err := m.sendFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newTestLoanHandler(service *mockLoanService, finder *mockLoanFinder, resources *mockResourceLister, sender *mockSender) *LoanHandler {
	return NewLoanHandler(service, finder, resources, sender, LoanHandlerConfig{
		MailFrom:    "openbare@example.com",
		AdminEmails: []string{"admin@example.com"},
	})
}

// doLoanRequest は認証済みユーザーとしてハンドラーを呼び出す。
func doLoanRequest(handlerFunc http.HandlerFunc, method, path, loanID, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(middleware.ContextWithUserID(req.Context(), "alice@example.com"))

	if loanID != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", loanID)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	rec := httptest.NewRecorder()
	handlerFunc(rec, req)
	return rec
}

// TestCheckoutHandler はチェックアウト成功時に201と認証情報が
// 返ることを確認する。
func TestCheckoutHandler(t *testing.T) {
	service := &mockLoanService{
		checkoutFunc: func(ctx context.Context, userID, loginName, kindKey string) (*model.Lendable, error) {
			return &model.Lendable{
				ID:                "loan-1",
				Kind:              kindKey,
				UserID:            userID,
				Username:          "alice",
				DueOn:             time.Date(2016, 5, 15, 0, 0, 0, 0, time.UTC),
				RenewalsRemaining: 2,
				Credentials: &model.Credentials{
					ConsoleURL:      "https://signin.aws.amazon.com/console",
					Username:        "alice",
					Password:        "secret",
					AccessKeyID:     "AKIA123",
					SecretAccessKey: "shhh",
				},
			}, nil
		},
	}
	h := newTestLoanHandler(service, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.Checkout, http.MethodPost, "/api/loans", "", `{"kind":"demo-account"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("201が返されるべきです: got %d", rec.Code)
	}

	var resp struct {
		ID                  string                  `json:"id"`
		Credentials         []model.CredentialField `json:"credentials"`
		CredentialsFilename string                  `json:"credentials_filename"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if resp.ID != "loan-1" {
		t.Errorf("貸出IDが一致しません: got %s", resp.ID)
	}
	if len(resp.Credentials) != 5 {
		t.Fatalf("認証情報は5項目であるべきです: got %d", len(resp.Credentials))
	}
	if resp.Credentials[0].Label != "Web Console URL" {
		t.Errorf("認証情報の提示順が一致しません: got %s", resp.Credentials[0].Label)
	}
	if resp.CredentialsFilename != "openbare-credentials-loan-1-demo-account.json" {
		t.Errorf("推奨ファイル名が一致しません: got %s", resp.CredentialsFilename)
	}
}

// TestCheckoutHandlerMissingKind は種別未指定で400になることを確認する。
func TestCheckoutHandlerMissingKind(t *testing.T) {
	h := newTestLoanHandler(&mockLoanService{}, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.Checkout, http.MethodPost, "/api/loans", "", `{}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("400が返されるべきです: got %d", rec.Code)
	}
}

// TestCheckoutHandlerUnavailable は貸出不可で409になることを確認する。
func TestCheckoutHandlerUnavailable(t *testing.T) {
	service := &mockLoanService{
		checkoutFunc: func(ctx context.Context, userID, loginName, kindKey string) (*model.Lendable, error) {
			return nil, model.NewUnavailableError("デモアカウント")
		},
	}
	h := newTestLoanHandler(service, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.Checkout, http.MethodPost, "/api/loans", "", `{"kind":"demo-account"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("409が返されるべきです: got %d", rec.Code)
	}

	var resp apiErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if resp.Code != model.ErrCodeUnavailable {
		t.Errorf("エラーコードが一致しません: got %s", resp.Code)
	}
	if resp.Action == "" {
		t.Error("対処方法が含まれるべきです")
	}
}

// TestRenewHandlerNoRenewalsLeft は延長回数超過で409になることを確認する。
func TestRenewHandlerNoRenewalsLeft(t *testing.T) {
	service := &mockLoanService{
		renewFunc: func(ctx context.Context, loanID, userID string) (*model.Lendable, error) {
			return nil, model.NewNoRenewalsLeftError()
		},
	}
	h := newTestLoanHandler(service, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.Renew, http.MethodPost, "/api/loans/loan-1/renew", "loan-1", "")

	if rec.Code != http.StatusConflict {
		t.Errorf("409が返されるべきです: got %d", rec.Code)
	}
}

// TestCheckinHandler は返却成功で204になることを確認する。
func TestCheckinHandler(t *testing.T) {
	var checkedIn string
	service := &mockLoanService{
		checkinFunc: func(ctx context.Context, loanID, userID string) error {
			checkedIn = loanID
			return nil
		},
	}
	h := newTestLoanHandler(service, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.Checkin, http.MethodDelete, "/api/loans/loan-1", "loan-1", "")

	if rec.Code != http.StatusNoContent {
		t.Errorf("204が返されるべきです: got %d", rec.Code)
	}
	if checkedIn != "loan-1" {
		t.Errorf("貸出IDが一致しません: got %s", checkedIn)
	}
}

// TestCheckinHandlerTeardownWarning はクリーンアップ失敗の警告が
// 200の警告レスポンスとして返ることを確認する。
func TestCheckinHandlerTeardownWarning(t *testing.T) {
	service := &mockLoanService{
		checkinFunc: func(ctx context.Context, loanID, userID string) error {
			return model.NewTeardownFailedError(errors.New("cloud down"))
		},
	}
	h := newTestLoanHandler(service, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.Checkin, http.MethodDelete, "/api/loans/loan-1", "loan-1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("警告付き返却は200が返されるべきです: got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if resp["warning"] == "" {
		t.Error("警告メッセージが含まれるべきです")
	}
}

// TestCheckinHandlerNotFound は存在しない貸出の返却で404になることを確認する。
func TestCheckinHandlerNotFound(t *testing.T) {
	service := &mockLoanService{
		checkinFunc: func(ctx context.Context, loanID, userID string) error {
			return model.NewLoanNotFoundError(loanID)
		},
	}
	h := newTestLoanHandler(service, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.Checkin, http.MethodDelete, "/api/loans/loan-x", "loan-x", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("404が返されるべきです: got %d", rec.Code)
	}
}

// TestListResourcesHandler は貸出に紐づくリソース台帳が返ることを確認する。
func TestListResourcesHandler(t *testing.T) {
	acquired := time.Date(2016, 5, 1, 10, 0, 0, 0, time.UTC)
	finder := &mockLoanFinder{
		findFunc: func(ctx context.Context, id, userID string) (*model.Lendable, error) {
			return &model.Lendable{ID: id, UserID: userID}, nil
		},
	}
	resources := &mockResourceLister{
		listFunc: func(ctx context.Context, lendableID string) ([]*model.Resource, error) {
			return []*model.Resource{
				{ID: "res-1", Kind: model.ResourceKindInstance, ResourceID: "i-001", Scope: "us-east-1", Acquired: &acquired},
			}, nil
		},
	}
	h := newTestLoanHandler(&mockLoanService{}, finder, resources, &mockSender{})

	rec := doLoanRequest(h.ListResources, http.MethodGet, "/api/loans/loan-1/resources", "loan-1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("200が返されるべきです: got %d", rec.Code)
	}

	var resp []resourceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if len(resp) != 1 || resp[0].ResourceID != "i-001" {
		t.Errorf("リソース一覧が一致しません: %+v", resp)
	}
}

// TestListResourcesHandlerNotOwned は他ユーザーの貸出のリソースが
// 404になることを確認する。
func TestListResourcesHandlerNotOwned(t *testing.T) {
	h := newTestLoanHandler(&mockLoanService{}, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.ListResources, http.MethodGet, "/api/loans/loan-1/resources", "loan-1", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("404が返されるべきです: got %d", rec.Code)
	}
}

// TestRequestExtensionHandler は延長依頼が管理者へメール送信される
// ことを確認する。
func TestRequestExtensionHandler(t *testing.T) {
	finder := &mockLoanFinder{
		findFunc: func(ctx context.Context, id, userID string) (*model.Lendable, error) {
			return &model.Lendable{ID: id, Kind: "demo-account", UserID: userID, Username: "alice"}, nil
		},
	}
	sender := &mockSender{}
	h := newTestLoanHandler(&mockLoanService{}, finder, &mockResourceLister{}, sender)

	rec := doLoanRequest(h.RequestExtension, http.MethodPost, "/api/loans/loan-1/extension-request", "loan-1", `{"reason":"検証がもう少し必要です"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("202が返されるべきです: got %d", rec.Code)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("延長依頼メールが送られるべきです: %d通", len(sender.sent))
	}
	if sender.sent[0].To[0] != "admin@example.com" {
		t.Errorf("宛先が管理者であるべきです: %v", sender.sent[0].To)
	}
}

// TestRequestExtensionHandlerMissingReason は理由未記入で400になることを確認する。
func TestRequestExtensionHandlerMissingReason(t *testing.T) {
	h := newTestLoanHandler(&mockLoanService{}, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.RequestExtension, http.MethodPost, "/api/loans/loan-1/extension-request", "loan-1", `{}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("400が返されるべきです: got %d", rec.Code)
	}
}

// TestListLoansHandler はユーザーの貸出一覧が返ることを確認する。
func TestListLoansHandler(t *testing.T) {
	service := &mockLoanService{
		listCheckedOutByFunc: func(ctx context.Context, userID string) ([]*model.Lendable, error) {
			return []*model.Lendable{
				{ID: "loan-1", Kind: "demo-account", UserID: userID, Username: "alice"},
			}, nil
		},
	}
	h := newTestLoanHandler(service, &mockLoanFinder{}, &mockResourceLister{}, &mockSender{})

	rec := doLoanRequest(h.ListLoans, http.MethodGet, "/api/loans", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("200が返されるべきです: got %d", rec.Code)
	}

	var resp []loanResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != "loan-1" {
		t.Errorf("貸出一覧が一致しません: %+v", resp)
	}
	// 一覧では認証情報は返さない
	if resp[0].Credentials != nil {
		t.Error("一覧レスポンスに認証情報が含まれるべきではありません")
	}
}

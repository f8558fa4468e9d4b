package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/openbare/internal/library"
	"github.com/hitoshi/openbare/internal/middleware"
)

// KindServiceInterface は種別ハンドラーが必要とするサービスインターフェース。
type KindServiceInterface interface {
	// KindStatuses は全種別の貸出状況を返す。
	KindStatuses(ctx context.Context, userID string) ([]library.KindStatus, error)
}

// KindHandler は貸出種別カタログのHTTPハンドラー。
type KindHandler struct {
	service KindServiceInterface
}

// NewKindHandler はKindHandlerを生成する。
func NewKindHandler(service KindServiceInterface) *KindHandler {
	return &KindHandler{service: service}
}

// kindResponse は貸出種別カタログのAPIレスポンス。
type kindResponse struct {
	Key               string    `json:"key"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	LendingPeriodDays int       `json:"lending_period_days"`
	MaxRenewals       int       `json:"max_renewals"`
	CheckedOut        int       `json:"checked_out"`
	MaxCheckedOut     int       `json:"max_checked_out"`
	Available         bool      `json:"available"`
	NextAvailable     time.Time `json:"next_available"`
}

// ListKinds は登録済みの全種別とユーザーから見た貸出状況を返す。
// GET /api/kinds
func (h *KindHandler) ListKinds(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	statuses, err := h.service.KindStatuses(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]kindResponse, 0, len(statuses))
	for _, st := range statuses {
		responses = append(responses, kindResponse{
			Key:               st.Kind.Key,
			Name:              st.Kind.Name,
			Description:       st.Kind.Description,
			LendingPeriodDays: st.Kind.LendingPeriodDays,
			MaxRenewals:       st.Kind.MaxRenewals,
			CheckedOut:        st.CheckedOut,
			MaxCheckedOut:     st.Kind.MaxCheckedOut,
			Available:         st.Available,
			NextAvailable:     st.NextAvailable,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

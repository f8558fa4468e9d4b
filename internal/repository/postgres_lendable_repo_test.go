package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/openbare/internal/model"
)

// PostgresLendableRepoはLendableRepositoryインターフェースを満たすことを検証
func TestPostgresLendableRepo_ImplementsInterface(t *testing.T) {
	var _ LendableRepository = (*PostgresLendableRepo)(nil)
}

// NewPostgresLendableRepoが正しく初期化されることを検証
func TestNewPostgresLendableRepo_Initializes(t *testing.T) {
	repo := NewPostgresLendableRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// isUniqueViolationがpqの一意制約違反コードのみを検出することを検証
func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("23505は一意制約違反と判定されるべきです")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("外部キー違反は一意制約違反ではありません")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Error("pq以外のエラーは一意制約違反ではありません")
	}

	// ラップされたエラーでも検出できること
	wrapped := errors.Join(errors.New("insert failed"), &pq.Error{Code: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Error("ラップされた23505も検出されるべきです")
	}
}

// NULL許容カラムの変換ヘルパーを検証
func TestNullHelpers(t *testing.T) {
	if nullTime(nil).Valid {
		t.Error("nilのnullTimeはValid=falseであるべきです")
	}
	at := time.Date(2016, 5, 1, 12, 0, 0, 0, time.UTC)
	if got := nullTime(&at); !got.Valid || !got.Time.Equal(at) {
		t.Errorf("nullTime(%v) = %+v", at, got)
	}

	if nullFloat(nil).Valid {
		t.Error("nilのnullFloatはValid=falseであるべきです")
	}
	days := 4.5
	if got := nullFloat(&days); !got.Valid || got.Float64 != days {
		t.Errorf("nullFloat(%v) = %+v", days, got)
	}
}

// Lendableモデルのフィールドが正しく構築されることを検証
func TestPostgresLendableRepo_LendableModel_Fields(t *testing.T) {
	now := time.Now()
	l := &model.Lendable{
		ID:                "lendable-id-1",
		Kind:              "demo-account",
		UserID:            "alice@example.com",
		Username:          "alice",
		CheckedOutOn:      now,
		DueOn:             now.Add(14 * 24 * time.Hour),
		RenewalsRemaining: 2,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if l.CheckedInOn != nil {
		t.Error("checked_in_onは初期状態でnilであるべきです")
	}
	if l.NotifyTimer != nil {
		t.Error("notify_timerは初期状態でnilであるべきです")
	}
	if l.DueOn.Sub(l.CheckedOutOn) != 14*24*time.Hour {
		t.Errorf("due_on - checked_out_on = %v, want %v", l.DueOn.Sub(l.CheckedOutOn), 14*24*time.Hour)
	}
}

package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/hitoshi/openbare/internal/model"
)

// PostgresResourceRepoはResourceRepositoryインターフェースを満たすことを検証
func TestPostgresResourceRepo_ImplementsInterface(t *testing.T) {
	var _ ResourceRepository = (*PostgresResourceRepo)(nil)
}

// PostgresWatermarkRepoはWatermarkRepositoryインターフェースを満たすことを検証
func TestPostgresWatermarkRepo_ImplementsInterface(t *testing.T) {
	var _ WatermarkRepository = (*PostgresWatermarkRepo)(nil)
}

// NewPostgresResourceRepoが正しく初期化されることを検証
func TestNewPostgresResourceRepo_Initializes(t *testing.T) {
	repo := NewPostgresResourceRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NULL許容文字列とNullTimeの変換ヘルパーを検証
func TestResourceNullHelpers(t *testing.T) {
	if nullStringPtr(nil).Valid {
		t.Error("nilのnullStringPtrはValid=falseであるべきです")
	}
	s := "lendable-id-1"
	if got := nullStringPtr(&s); !got.Valid || got.String != s {
		t.Errorf("nullStringPtr(%q) = %+v", s, got)
	}

	if timePtr(sql.NullTime{}) != nil {
		t.Error("無効なNullTimeはnilに変換されるべきです")
	}
	at := time.Date(2016, 5, 1, 12, 0, 0, 0, time.UTC)
	got := timePtr(sql.NullTime{Time: at, Valid: true})
	if got == nil || !got.Equal(at) {
		t.Errorf("timePtr = %v, want %v", got, at)
	}
}

// Resourceモデルの状態判定フィールドを検証
func TestPostgresResourceRepo_ResourceModel_Fields(t *testing.T) {
	lendableID := "lendable-id-1"
	res := &model.Resource{
		ID:         "resource-id-1",
		Kind:       model.ResourceKindInstance,
		LendableID: &lendableID,
		ResourceID: "i-0123456789abcdef0",
		Scope:      "ap-northeast-1",
	}

	if res.IsReleased() {
		t.Error("releasedが未設定のリソースは解放済みではありません")
	}
	if res.IsPreserved() {
		t.Error("preserveが未設定のリソースは保護対象ではありません")
	}

	now := time.Now()
	res.Released = &now
	if !res.IsReleased() {
		t.Error("releasedを設定したリソースは解放済みと判定されるべきです")
	}
}

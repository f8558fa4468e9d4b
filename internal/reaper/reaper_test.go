package reaper

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/openbare/internal/cloud"
	"github.com/hitoshi/openbare/internal/metrics"
	"github.com/hitoshi/openbare/internal/model"
)

// mockResourceRepo はResourceRepositoryのモック実装。
type mockResourceRepo struct {
	findByNaturalKeyFunc func(ctx context.Context, resourceID, scope string) (*model.Resource, error)
	createFunc           func(ctx context.Context, resource *model.Resource) error
	updateFunc           func(ctx context.Context, resource *model.Resource) error
	listByLendableFunc   func(ctx context.Context, lendableID string) ([]*model.Resource, error)
	detachFunc           func(ctx context.Context, id string) error
	detached             []string
	updated              []*model.Resource
}

func (m *mockResourceRepo) FindByNaturalKey(ctx context.Context, resourceID, scope string) (*model.Resource, error) {
	if m.findByNaturalKeyFunc != nil {
		return m.findByNaturalKeyFunc(ctx, resourceID, scope)
	}
	return nil, nil
}

func (m *mockResourceRepo) Create(ctx context.Context, resource *model.Resource) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, resource)
	}
	return nil
}

func (m *mockResourceRepo) Update(ctx context.Context, resource *model.Resource) error {
	m.updated = append(m.updated, resource)
	if m.updateFunc != nil {
		return m.updateFunc(ctx, resource)
	}
	return nil
}

func (m *mockResourceRepo) ListByLendable(ctx context.Context, lendableID string) ([]*model.Resource, error) {
	if m.listByLendableFunc != nil {
		return m.listByLendableFunc(ctx, lendableID)
	}
	return nil, nil
}

func (m *mockResourceRepo) Detach(ctx context.Context, id string) error {
	m.detached = append(m.detached, id)
	if m.detachFunc != nil {
		return m.detachFunc(ctx, id)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

// TestCleanupResourcesTerminatesInstances は走行中のインスタンスが
// 終了され、台帳にreapedが記録されることを確認する。
func TestCleanupResourcesTerminatesInstances(t *testing.T) {
	fake := cloud.NewFake()
	fake.AddInstance("us-east-1", "i-running", "running")

	repo := &mockResourceRepo{
		listByLendableFunc: func(ctx context.Context, lendableID string) ([]*model.Resource, error) {
			return []*model.Resource{
				{
					ID:         "res-1",
					Kind:       model.ResourceKindInstance,
					LendableID: strPtr(lendableID),
					ResourceID: "i-running",
					Scope:      "us-east-1",
					Acquired:   timePtr(time.Now()),
				},
			}, nil
		},
	}
	r := NewReaper(repo, fake, metrics.Nop{}, testLogger())

	lendable := &model.Lendable{ID: "loan-1", Username: "alice"}
	if err := r.CleanupResources(context.Background(), lendable); err != nil {
		t.Fatalf("エラーが発生しました: %v", err)
	}

	state, found, _ := fake.InstanceState(context.Background(), "us-east-1", "i-running")
	if !found || state != "terminated" {
		t.Errorf("インスタンスが終了されるべきです: state=%s found=%v", state, found)
	}
	if len(repo.updated) != 1 {
		t.Fatalf("台帳が更新されるべきです: %d件", len(repo.updated))
	}
	if !repo.updated[0].Reaped {
		t.Error("reapedが記録されるべきです")
	}
	if repo.updated[0].Released == nil {
		t.Error("releasedが記録されるべきです")
	}
}

// TestCleanupResourcesPreserve はpreserve指定のリソースが終了されず、
// 貸出から切り離されることを確認する。
func TestCleanupResourcesPreserve(t *testing.T) {
	fake := cloud.NewFake()
	fake.AddInstance("us-east-1", "i-keep", "running")

	repo := &mockResourceRepo{
		listByLendableFunc: func(ctx context.Context, lendableID string) ([]*model.Resource, error) {
			return []*model.Resource{
				{
					ID:         "res-1",
					Kind:       model.ResourceKindInstance,
					LendableID: strPtr(lendableID),
					ResourceID: "i-keep",
					Scope:      "us-east-1",
					Preserve:   timePtr(time.Now()),
				},
			}, nil
		},
	}
	r := NewReaper(repo, fake, metrics.Nop{}, testLogger())

	if err := r.CleanupResources(context.Background(), &model.Lendable{ID: "loan-1"}); err != nil {
		t.Fatalf("エラーが発生しました: %v", err)
	}

	state, _, _ := fake.InstanceState(context.Background(), "us-east-1", "i-keep")
	if state != "running" {
		t.Errorf("preserve指定のインスタンスは終了されるべきではありません: state=%s", state)
	}
	if len(repo.detached) != 1 || repo.detached[0] != "res-1" {
		t.Errorf("リソースが切り離されるべきです: %v", repo.detached)
	}
}

// TestCleanupResourcesSkipsReleased は既に終了済みのリソースが
// スキップされることを確認する。
func TestCleanupResourcesSkipsReleased(t *testing.T) {
	fake := cloud.NewFake()

	repo := &mockResourceRepo{
		listByLendableFunc: func(ctx context.Context, lendableID string) ([]*model.Resource, error) {
			return []*model.Resource{
				{
					ID:         "res-1",
					Kind:       model.ResourceKindInstance,
					ResourceID: "i-gone",
					Scope:      "us-east-1",
					Released:   timePtr(time.Now()),
				},
			}, nil
		},
	}
	r := NewReaper(repo, fake, metrics.Nop{}, testLogger())

	if err := r.CleanupResources(context.Background(), &model.Lendable{ID: "loan-1"}); err != nil {
		t.Fatalf("エラーが発生しました: %v", err)
	}
	if len(repo.updated) != 0 {
		t.Errorf("終了済みリソースは更新されるべきではありません: %d件", len(repo.updated))
	}
}

// TestCleanupResourcesSkipsTagged はタグのみ観測されたリソースが
// 回収対象外であることを確認する。
func TestCleanupResourcesSkipsTagged(t *testing.T) {
	fake := cloud.NewFake()

	repo := &mockResourceRepo{
		listByLendableFunc: func(ctx context.Context, lendableID string) ([]*model.Resource, error) {
			return []*model.Resource{
				{
					ID:         "res-1",
					Kind:       model.ResourceKindTagged,
					ResourceID: "vol-abc",
					Scope:      "us-east-1",
				},
			}, nil
		},
	}
	r := NewReaper(repo, fake, metrics.Nop{}, testLogger())

	if err := r.CleanupResources(context.Background(), &model.Lendable{ID: "loan-1"}); err != nil {
		t.Fatalf("エラーが発生しました: %v", err)
	}
	if len(repo.updated) != 0 {
		t.Errorf("タグのみのリソースは更新されるべきではありません: %d件", len(repo.updated))
	}
}

// TestCleanupResourcesContinuesPastFailure は1件の終了失敗で
// 残りのリソース処理が中断されないことを確認する。
func TestCleanupResourcesContinuesPastFailure(t *testing.T) {
	fake := cloud.NewFake()
	fake.AddInstance("us-east-1", "i-ok", "running")
	fake.TerminateInstanceErr = errors.New("api error")

	repo := &mockResourceRepo{
		listByLendableFunc: func(ctx context.Context, lendableID string) ([]*model.Resource, error) {
			return []*model.Resource{
				{ID: "res-1", Kind: model.ResourceKindInstance, ResourceID: "i-fail", Scope: "us-east-1"},
				{ID: "res-2", Kind: model.ResourceKindInstance, ResourceID: "i-keep", Scope: "us-east-1", Preserve: timePtr(time.Now())},
			}, nil
		},
	}
	r := NewReaper(repo, fake, metrics.Nop{}, testLogger())

	err := r.CleanupResources(context.Background(), &model.Lendable{ID: "loan-1"})
	if err == nil {
		t.Fatal("終了失敗がエラーとして返されるべきです")
	}
	// 失敗したリソースの後続（preserve指定）も処理されている
	if len(repo.detached) != 1 || repo.detached[0] != "res-2" {
		t.Errorf("失敗後も残りのリソースが処理されるべきです: %v", repo.detached)
	}
}

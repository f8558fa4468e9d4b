package model

import "time"

// ResourceKind はリソース台帳上のリソース種別を表す。
type ResourceKind string

const (
	// ResourceKindTagged はタグ操作のみ観測された一般リソース。
	ResourceKindTagged ResourceKind = "tagged"
	// ResourceKindInstance はコンピュートインスタンス。
	ResourceKindInstance ResourceKind = "instance"
)

// Resource は貸出に紐づく外部クラウドリソースの台帳エントリ。
// (ResourceID, Scope)の組が自然キーとなり、イベントコレクタは
// この自然キーでcreate-or-fetchすることで重複配信に対して冪等になる。
// 台帳エントリは監査履歴として保持し、通常経路では削除しない。
type Resource struct {
	ID   string
	Kind ResourceKind
	// LendableID は紐づく貸出のID。preserve指定でロールバック対象外として
	// 切り離された場合のみnilになる。
	LendableID *string
	// ResourceID はプロバイダ側の識別子（例: i-0123456789abcdef0）。
	ResourceID string
	// Scope はリソースが属するリージョン等の範囲。
	Scope string
	// Acquired は作成イベントを最初に観測した時刻。
	Acquired *time.Time
	// Preserve が設定されているリソースはリーパーによる削除の対象外。
	Preserve *time.Time
	// Released はプロバイダ側での終了を観測した時刻。
	Released *time.Time
	// Reaped は本システムが能動的に終了させた場合にtrue。
	Reaped    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPreserved は貸出終了後も残すべきリソースであればtrueを返す。
func (r *Resource) IsPreserved() bool {
	return r.Preserve != nil
}

// IsReleased はプロバイダ側で既に終了しているリソースであればtrueを返す。
func (r *Resource) IsReleased() bool {
	return r.Released != nil
}

package model

import (
	"sort"
	"sync"
)

// LendableKind は貸出可能なリソース種別の定義。
// 種別ごとの表示名、貸出上限、貸出期間、ユーザー名導出ルールを保持する。
// 起動時にRegisterKindで登録され、以降は変更しない。
type LendableKind struct {
	// Key は種別を一意に識別するキー（lendables.kind列に保存される）。
	Key         string
	Name        string
	Description string
	// MaxCheckedOut は種別全体での同時貸出数の上限。
	MaxCheckedOut int
	// LendingPeriodDays は1回の貸出期間（日数）。
	LendingPeriodDays int
	// MaxRenewals はチェックアウト時に付与される延長可能回数。
	MaxRenewals int
	// Groups はプロビジョニング時にアカウントへ割り当てるグループ。
	Groups []string
	// NormalizeUsername は候補ユーザー名を種別の制約に合わせて正規化する。
	NormalizeUsername func(candidate string) string
	// ValidateUsername は正規化後のユーザー名が種別の制約を満たすか検証する。
	ValidateUsername func(username string) bool
}

var (
	kindMu   sync.RWMutex
	kindsMap = map[string]*LendableKind{}
)

// RegisterKind は貸出リソース種別を登録する。
// 同じキーの再登録は後勝ちで上書きする。起動時のワイヤリングからのみ呼ぶこと。
func RegisterKind(k *LendableKind) {
	kindMu.Lock()
	defer kindMu.Unlock()
	kindsMap[k.Key] = k
}

// KindOf は指定キーの種別定義を返す。未登録の場合はnilを返す。
func KindOf(key string) *LendableKind {
	kindMu.RLock()
	defer kindMu.RUnlock()
	return kindsMap[key]
}

// Kinds は登録済みの全種別をキー昇順で返す。
func Kinds() []*LendableKind {
	kindMu.RLock()
	defer kindMu.RUnlock()

	kinds := make([]*LendableKind, 0, len(kindsMap))
	for _, k := range kindsMap {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Key < kinds[j].Key })
	return kinds
}

// ResetKinds は登録済み種別をすべて削除する。テスト用。
func ResetKinds() {
	kindMu.Lock()
	defer kindMu.Unlock()
	kindsMap = map[string]*LendableKind{}
}

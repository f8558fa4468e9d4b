package model

import "time"

// Watermark はイベントコレクタの最終成功時刻を記録する。
// Nameはコレクタ名とスコープを結合したキー（例: "collect_us-west-1"）。
// LastSuccessは単調非減少であり、次回ポーリングの開始時刻計算に使用する。
type Watermark struct {
	Name string
	// LastSuccess は最後に成功したポーリングの開始時刻。初回はnil。
	LastSuccess *time.Time
	UpdatedAt   time.Time
}

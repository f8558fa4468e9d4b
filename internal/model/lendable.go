// Package model はドメインモデルを定義する。
package model

import "time"

// Lendable はユーザーへの期限付きリソース貸出を表す。
// checked_in_onがnilの間は貸出中（アクティブ）として扱い、
// 返却時にもレコードは削除せずchecked_in_onを記録して履歴として残す。
type Lendable struct {
	ID           string
	Kind         string // 貸出リソース種別のキー
	UserID       string // ログインユーザーのID
	Username     string // プロビジョニングされたクラウド上のユーザー名
	CheckedOutOn time.Time
	CheckedInOn  *time.Time
	DueOn        time.Time
	// RenewalsRemaining は残りの延長可能回数。
	RenewalsRemaining int
	// NotifyTimer は最後に期限通知を送った時点の残日数（小数日）。
	// 未通知の場合はnil。
	NotifyTimer *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Credentials はチェックアウト直後のレスポンスにのみ載せる。
	// 永続化されず、再取得もできない。
	Credentials *Credentials
}

// IsCheckedOut は貸出中（未返却）であればtrueを返す。
func (l *Lendable) IsCheckedOut() bool {
	return l.CheckedInOn == nil
}

// IsRenewable は延長が可能であればtrueを返す。
func (l *Lendable) IsRenewable() bool {
	return l.RenewalsRemaining > 0
}

// MaxDueDate は残りの延長をすべて使った場合の最終返却期限を返す。
func (l *Lendable) MaxDueDate(k *LendableKind) time.Time {
	return l.DueOn.Add(
		time.Duration(k.LendingPeriodDays*l.RenewalsRemaining) * 24 * time.Hour,
	)
}

// Credentials はチェックアウト時に発行されるクラウド認証情報。
// フィールドの提示順序はCredentialFieldsの定義順に従う。
type Credentials struct {
	ConsoleURL      string
	Username        string
	Password        string
	AccessKeyID     string
	SecretAccessKey string
}

// CredentialField は認証情報の1項目（表示名と値）。
type CredentialField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Fields は認証情報を提示順に並べて返す。
func (c *Credentials) Fields() []CredentialField {
	return []CredentialField{
		{Label: "Web Console URL", Value: c.ConsoleURL},
		{Label: "Username", Value: c.Username},
		{Label: "Password", Value: c.Password},
		{Label: "Access Key ID", Value: c.AccessKeyID},
		{Label: "Secret Access Key", Value: c.SecretAccessKey},
	}
}

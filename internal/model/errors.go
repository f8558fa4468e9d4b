package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: loan, validation, cloud, auth
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となった下位エラー（存在する場合）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となった下位エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeUnavailable        = "UNAVAILABLE"
	ErrCodeLoanNotFound       = "LOAN_NOT_FOUND"
	ErrCodeKindNotFound       = "KIND_NOT_FOUND"
	ErrCodeNoRenewalsLeft     = "NO_RENEWALS_LEFT"
	ErrCodeProvisioningFailed = "PROVISIONING_FAILED"
	ErrCodeTeardownFailed     = "TEARDOWN_FAILED"
)

// NewUnavailableError は貸出不可エラーを生成する。
// 既に同種別を貸出中か、種別の同時貸出上限に達している場合に返す。
func NewUnavailableError(kindName string) *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  fmt.Sprintf("「%s」は現在チェックアウトできません。", kindName),
		Category: "loan",
		Action:   "既に貸出中の場合は返却するか、次の空き予定日までお待ちください。",
	}
}

// NewLoanNotFoundError は貸出未検出エラーを生成する。
// 所有者が一致しない場合も存在を漏らさないよう同じエラーを返す。
func NewLoanNotFoundError(loanID string) *APIError {
	return &APIError{
		Code:     ErrCodeLoanNotFound,
		Message:  fmt.Sprintf("指定された貸出が見つかりません: %s", loanID),
		Category: "loan",
		Action:   "貸出IDを確認してください。",
	}
}

// NewKindNotFoundError は未登録の貸出種別エラーを生成する。
func NewKindNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeKindNotFound,
		Message:  fmt.Sprintf("指定された貸出種別が見つかりません: %s", key),
		Category: "validation",
		Action:   "貸出種別のキーを確認してください。",
	}
}

// NewNoRenewalsLeftError は延長回数超過エラーを生成する。
func NewNoRenewalsLeftError() *APIError {
	return &APIError{
		Code:     ErrCodeNoRenewalsLeft,
		Message:  "この貸出はこれ以上延長できません。",
		Category: "validation",
		Action:   "さらに必要な場合は期限延長の申請を送信してください。",
	}
}

// NewProvisioningFailedError はアカウント作成失敗エラーを生成する。
// ロールバック試行後に元のエラーを包んで返す。
func NewProvisioningFailedError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeProvisioningFailed,
		Message:  "クラウドアカウントの作成に失敗しました。",
		Category: "cloud",
		Action:   "しばらく待ってから再度チェックアウトしてください。",
		Err:      err,
	}
}

// NewTeardownFailedError はクラウド側クリーンアップ失敗エラーを生成する。
// 貸出自体は返却済みとして扱われる（警告として通知される）。
func NewTeardownFailedError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeTeardownFailed,
		Message:  "クラウドリソースのクリーンアップに失敗しました。",
		Category: "cloud",
		Action:   "貸出は返却済みです。残存リソースは管理者が確認します。",
		Err:      err,
	}
}

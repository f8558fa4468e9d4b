// Package cloud は外部クラウドAPIの抽象インターフェースを定義する。
// IAM相当のアイデンティティAPI、EC2相当のコンピュートAPI、
// CloudTrail相当の監査イベントストリームAPIを抽象化し、
// 具体的なSDKクライアントを差し替え可能にする。
package cloud

import (
	"context"
	"time"
)

// AccessKey はアイデンティティに発行されるアクセスキーペア。
type AccessKey struct {
	ID     string
	Secret string
}

// IAMClient はクラウドのアイデンティティ管理APIを抽象化する。
// すべての呼び出しはリモートI/Oであり、contextでタイムアウト制御される。
type IAMClient interface {
	// UserExists は指定ユーザー名のアイデンティティが存在するかを返す。
	UserExists(ctx context.Context, username string) (bool, error)

	// CreateUser はアイデンティティを作成する。
	CreateUser(ctx context.Context, username string) error
	// DeleteUser はアイデンティティを削除する。
	// 依存リソース（プロファイル、キー、グループ、ポリシー）が残っていると失敗する。
	DeleteUser(ctx context.Context, username string) error

	// CreateLoginProfile はコンソールログイン用のプロファイルを作成する。
	CreateLoginProfile(ctx context.Context, username, password string) error
	// DeleteLoginProfile はログインプロファイルを削除する。
	DeleteLoginProfile(ctx context.Context, username string) error

	// CreateAccessKey はアクセスキーペアを発行する。
	CreateAccessKey(ctx context.Context, username string) (*AccessKey, error)
	// ListAccessKeys は発行済みアクセスキーIDの一覧を返す。
	ListAccessKeys(ctx context.Context, username string) ([]string, error)
	// DeleteAccessKey はアクセスキーを削除する。
	DeleteAccessKey(ctx context.Context, username, keyID string) error

	// AddUserToGroup はユーザーをグループに追加する。
	AddUserToGroup(ctx context.Context, username, group string) error
	// ListGroupsForUser は所属グループの一覧を返す。
	ListGroupsForUser(ctx context.Context, username string) ([]string, error)
	// RemoveUserFromGroup はユーザーをグループから外す。
	RemoveUserFromGroup(ctx context.Context, username, group string) error

	// ListAttachedPolicies はユーザーに直接アタッチされたポリシーの一覧を返す。
	ListAttachedPolicies(ctx context.Context, username string) ([]string, error)
	// DetachPolicy はポリシーをデタッチする。
	DetachPolicy(ctx context.Context, username, policyARN string) error

	// ListMFADevices は関連付けられたMFAデバイスの一覧を返す。
	ListMFADevices(ctx context.Context, username string) ([]string, error)
	// DeactivateMFADevice はMFAデバイスの関連付けを解除する。
	DeactivateMFADevice(ctx context.Context, username, serial string) error

	// ListSigningCertificates は署名証明書IDの一覧を返す。
	ListSigningCertificates(ctx context.Context, username string) ([]string, error)
	// DeleteSigningCertificate は署名証明書を削除する。
	DeleteSigningCertificate(ctx context.Context, username, certID string) error
}

// ComputeClient はクラウドのコンピュートAPIを抽象化する。
type ComputeClient interface {
	// TerminateInstance はインスタンスの終了を指示する。
	TerminateInstance(ctx context.Context, scope, instanceID string) error
}

// 監査イベント名。追跡対象はコレクタ側で選別する。
const (
	EventRunInstances       = "RunInstances"
	EventTerminateInstances = "TerminateInstances"
	EventCreateTags         = "CreateTags"
	EventDeleteTags         = "DeleteTags"
)

// アクター種別。
const (
	IdentityTypeIAMUser = "IAMUser"
	IdentityTypeRoot    = "Root"
)

// Identity は監査イベントの操作主体。
type Identity struct {
	Type        string // IAMUser, Root など
	Username    string // IAMUserの場合のみ
	PrincipalID string
}

// Tag はタグ操作イベントのキーと値。削除イベントでは値が空になることがある。
type Tag struct {
	Key   string
	Value string
}

// Event は監査ストリームから取得したイベントのエンベロープ。
// ストリームは新しい順に返すため、時系列処理には呼び出し側で反転が必要。
type Event struct {
	Name      string
	Time      time.Time
	ErrorCode string // 失敗した操作のイベントは空でない
	Identity  Identity
	Scope     string
	// InstanceIDs はインスタンス作成/終了イベントの対象インスタンス。
	InstanceIDs []string
	// ResourceIDs はタグ操作イベントの対象リソース。
	ResourceIDs []string
	// Tags はタグ操作イベントのタグ集合。
	Tags []Tag
}

// TrailClient は監査イベントストリームAPIを抽象化する。
type TrailClient interface {
	// LookupEvents はstartTime以降のイベントを新しい順にページングして返す。
	// 継続トークンが空になるまで繰り返し呼び出す。
	LookupEvents(ctx context.Context, scope string, startTime time.Time, maxResults int, nextToken string) (events []Event, next string, err error)
}

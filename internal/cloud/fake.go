package cloud

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Fake はIAM・コンピュート・監査ストリームのインメモリ実装。
// 実エンドポイントが設定されていない開発環境とテストで使用する。
// エラー注入フィールドを設定すると該当操作が失敗するようになる。
type Fake struct {
	mu sync.Mutex

	users     map[string]*fakeUser
	instances map[string]string // scope/instanceID -> state
	events    []Event

	// エラー注入。nilでない場合、該当操作はこのエラーを返す。
	CreateUserErr         error
	CreateLoginProfileErr error
	CreateAccessKeyErr    error
	AddUserToGroupErr     error
	DeleteUserErr         error
	TerminateInstanceErr  error
	LookupEventsErr       error

	keySeq int
}

type fakeUser struct {
	hasLoginProfile bool
	accessKeys      map[string]string
	groups          []string
	policies        []string
	mfaDevices      []string
	signingCerts    []string
}

// NewFake は空の状態のFakeを生成する。
func NewFake() *Fake {
	return &Fake{
		users:     map[string]*fakeUser{},
		instances: map[string]string{},
	}
}

func (f *Fake) user(username string) (*fakeUser, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q not found", username)
	}
	return u, nil
}

// UserExists は指定ユーザー名のアイデンティティが存在するかを返す。
func (f *Fake) UserExists(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[username]
	return ok, nil
}

// CreateUser はアイデンティティを作成する。
func (f *Fake) CreateUser(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateUserErr != nil {
		return f.CreateUserErr
	}
	if _, ok := f.users[username]; ok {
		return fmt.Errorf("user %q already exists", username)
	}
	f.users[username] = &fakeUser{accessKeys: map[string]string{}}
	return nil
}

// DeleteUser はアイデンティティを削除する。依存リソースが残っていると失敗する。
func (f *Fake) DeleteUser(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteUserErr != nil {
		return f.DeleteUserErr
	}
	u, err := f.user(username)
	if err != nil {
		return err
	}
	if u.hasLoginProfile || len(u.accessKeys) > 0 || len(u.groups) > 0 ||
		len(u.policies) > 0 || len(u.mfaDevices) > 0 || len(u.signingCerts) > 0 {
		return fmt.Errorf("user %q still has dependent resources", username)
	}
	delete(f.users, username)
	return nil
}

// CreateLoginProfile はログインプロファイルを作成する。
func (f *Fake) CreateLoginProfile(ctx context.Context, username, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateLoginProfileErr != nil {
		return f.CreateLoginProfileErr
	}
	u, err := f.user(username)
	if err != nil {
		return err
	}
	u.hasLoginProfile = true
	return nil
}

// DeleteLoginProfile はログインプロファイルを削除する。
func (f *Fake) DeleteLoginProfile(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return err
	}
	if !u.hasLoginProfile {
		return fmt.Errorf("login profile for %q not found", username)
	}
	u.hasLoginProfile = false
	return nil
}

// CreateAccessKey はアクセスキーペアを発行する。
func (f *Fake) CreateAccessKey(ctx context.Context, username string) (*AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateAccessKeyErr != nil {
		return nil, f.CreateAccessKeyErr
	}
	u, err := f.user(username)
	if err != nil {
		return nil, err
	}
	f.keySeq++
	key := &AccessKey{
		ID:     "AKIAFAKE" + strconv.Itoa(f.keySeq),
		Secret: "secret-" + strconv.Itoa(f.keySeq),
	}
	u.accessKeys[key.ID] = key.Secret
	return key, nil
}

// ListAccessKeys は発行済みアクセスキーIDの一覧を返す。
func (f *Fake) ListAccessKeys(ctx context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(u.accessKeys))
	for id := range u.accessKeys {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteAccessKey はアクセスキーを削除する。
func (f *Fake) DeleteAccessKey(ctx context.Context, username, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return err
	}
	delete(u.accessKeys, keyID)
	return nil
}

// AddUserToGroup はユーザーをグループに追加する。
func (f *Fake) AddUserToGroup(ctx context.Context, username, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddUserToGroupErr != nil {
		return f.AddUserToGroupErr
	}
	u, err := f.user(username)
	if err != nil {
		return err
	}
	u.groups = append(u.groups, group)
	return nil
}

// ListGroupsForUser は所属グループの一覧を返す。
func (f *Fake) ListGroupsForUser(ctx context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), u.groups...), nil
}

// RemoveUserFromGroup はユーザーをグループから外す。
func (f *Fake) RemoveUserFromGroup(ctx context.Context, username, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return err
	}
	var groups []string
	for _, g := range u.groups {
		if g != group {
			groups = append(groups, g)
		}
	}
	u.groups = groups
	return nil
}

// ListAttachedPolicies はアタッチ済みポリシーの一覧を返す。
func (f *Fake) ListAttachedPolicies(ctx context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), u.policies...), nil
}

// DetachPolicy はポリシーをデタッチする。
func (f *Fake) DetachPolicy(ctx context.Context, username, policyARN string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return err
	}
	var policies []string
	for _, p := range u.policies {
		if p != policyARN {
			policies = append(policies, p)
		}
	}
	u.policies = policies
	return nil
}

// ListMFADevices はMFAデバイスの一覧を返す。
func (f *Fake) ListMFADevices(ctx context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), u.mfaDevices...), nil
}

// DeactivateMFADevice はMFAデバイスの関連付けを解除する。
func (f *Fake) DeactivateMFADevice(ctx context.Context, username, serial string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return err
	}
	var devices []string
	for _, d := range u.mfaDevices {
		if d != serial {
			devices = append(devices, d)
		}
	}
	u.mfaDevices = devices
	return nil
}

// ListSigningCertificates は署名証明書IDの一覧を返す。
func (f *Fake) ListSigningCertificates(ctx context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), u.signingCerts...), nil
}

// DeleteSigningCertificate は署名証明書を削除する。
func (f *Fake) DeleteSigningCertificate(ctx context.Context, username, certID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.user(username)
	if err != nil {
		return err
	}
	var certs []string
	for _, c := range u.signingCerts {
		if c != certID {
			certs = append(certs, c)
		}
	}
	u.signingCerts = certs
	return nil
}

// AddInstance はテスト用にインスタンスを登録する。
func (f *Fake) AddInstance(scope, instanceID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[scope+"/"+instanceID] = state
}

// InstanceState は指定スコープのインスタンス状態を返す。
func (f *Fake) InstanceState(ctx context.Context, scope, instanceID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.instances[scope+"/"+instanceID]
	return state, ok, nil
}

// TerminateInstance はインスタンスの終了を指示する。
func (f *Fake) TerminateInstance(ctx context.Context, scope, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TerminateInstanceErr != nil {
		return f.TerminateInstanceErr
	}
	if _, ok := f.instances[scope+"/"+instanceID]; !ok {
		return fmt.Errorf("instance %q not found in %s", instanceID, scope)
	}
	f.instances[scope+"/"+instanceID] = "terminated"
	return nil
}

// AddEvent はテスト用に監査イベントを追加する。
// ストリームの実挙動に合わせ、LookupEventsは新しい順に返す。
func (f *Fake) AddEvent(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

// LookupEvents はstartTime以降のイベントを新しい順にページングして返す。
func (f *Fake) LookupEvents(ctx context.Context, scope string, startTime time.Time, maxResults int, nextToken string) ([]Event, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LookupEventsErr != nil {
		return nil, "", f.LookupEventsErr
	}

	var matched []Event
	for _, ev := range f.events {
		if ev.Scope == scope && !ev.Time.Before(startTime) {
			matched = append(matched, ev)
		}
	}
	// 新しい順
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	offset := 0
	if nextToken != "" {
		n, err := strconv.Atoi(nextToken)
		if err != nil {
			return nil, "", fmt.Errorf("invalid next token %q", nextToken)
		}
		offset = n
	}
	if offset >= len(matched) {
		return nil, "", nil
	}

	end := offset + maxResults
	if maxResults <= 0 || end > len(matched) {
		end = len(matched)
	}

	next := ""
	if end < len(matched) {
		next = strconv.Itoa(end)
	}
	return matched[offset:end], next, nil
}

// compile-time interface checks
var (
	_ IAMClient     = (*Fake)(nil)
	_ ComputeClient = (*Fake)(nil)
	_ TrailClient   = (*Fake)(nil)
)

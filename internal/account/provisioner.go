// Package account はクラウドアカウントのプロビジョニングと破棄を提供する。
// アカウントの生存期間は貸出の生存期間に追従する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/openbare/internal/cloud"
	"github.com/hitoshi/openbare/internal/model"
)

// randomUsernameLength は代替ユーザー名の固定長。
const randomUsernameLength = 20

// Provisioner はクラウドアイデンティティの作成・破棄を行う。
type Provisioner struct {
	iam        cloud.IAMClient
	consoleURL string
	logger     *slog.Logger
}

// NewProvisioner はProvisionerの新しいインスタンスを生成する。
// accountAliasが指定された場合はコンソールURLにエイリアスを組み込む。
func NewProvisioner(iam cloud.IAMClient, accountAlias string, logger *slog.Logger) *Provisioner {
	url := "https://signin.aws.amazon.com/console"
	if accountAlias != "" {
		url = fmt.Sprintf("https://%s.signin.aws.amazon.com/console", accountAlias)
	}
	return &Provisioner{
		iam:        iam,
		consoleURL: url,
		logger:     logger,
	}
}

// AccountExists は指定ユーザー名のアカウントが存在するかを返す。
func (p *Provisioner) AccountExists(ctx context.Context, username string) (bool, error) {
	exists, err := p.iam.UserExists(ctx, username)
	if err != nil {
		return false, fmt.Errorf("アカウントの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// DeriveUsername は貸出種別のルールに従ってユーザー名を導出する。
// 正規化後の候補が有効かつ未使用であればそれを返し、
// そうでなければ固定長のランダムな代替名を生成する。
func (p *Provisioner) DeriveUsername(ctx context.Context, kind *model.LendableKind, candidate string) (string, error) {
	username := candidate
	if kind.NormalizeUsername != nil {
		username = kind.NormalizeUsername(candidate)
	}

	valid := kind.ValidateUsername == nil || kind.ValidateUsername(username)
	if valid {
		exists, err := p.AccountExists(ctx, username)
		if err != nil {
			return "", err
		}
		if !exists {
			return username, nil
		}
	}

	return RandomUsername(randomUsernameLength), nil
}

// CreateAccount は指定ユーザー名のアカウントを作成し、認証情報を返す。
// パスワード生成 → アイデンティティ作成 → グループ割り当て →
// ログインプロファイル作成 → アクセスキー発行の順に実行し、
// いずれかのステップが失敗した場合は作成済みのサブリソースを
// ベストエフォートでロールバックした上で元のエラーを返す。
func (p *Provisioner) CreateAccount(ctx context.Context, username string, groups []string) (*model.Credentials, error) {
	p.logger.Info("クラウドアカウントを作成します",
		slog.String("username", username),
	)

	password := MakePassword(PasswordMinLength)

	if err := p.iam.CreateUser(ctx, username); err != nil {
		return nil, model.NewProvisioningFailedError(
			fmt.Errorf("アイデンティティの作成に失敗: %w", err),
		)
	}

	// 以降のステップが失敗したらロールバックして元のエラーを返す。
	// ロールバック自身の失敗はログに残すだけで元のエラーを覆い隠さない。
	rollback := func(cause error) (*model.Credentials, error) {
		if err := p.cleanupUser(ctx, username); err != nil {
			p.logger.Error("ロールバック中のクリーンアップに失敗しました",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
		if err := p.iam.DeleteUser(ctx, username); err != nil {
			p.logger.Error("ロールバック中のアイデンティティ削除に失敗しました",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
		return nil, model.NewProvisioningFailedError(cause)
	}

	for _, group := range groups {
		if err := p.iam.AddUserToGroup(ctx, username, group); err != nil {
			return rollback(fmt.Errorf("グループ %q への追加に失敗: %w", group, err))
		}
	}

	if err := p.iam.CreateLoginProfile(ctx, username, password); err != nil {
		return rollback(fmt.Errorf("ログインプロファイルの作成に失敗: %w", err))
	}

	key, err := p.iam.CreateAccessKey(ctx, username)
	if err != nil {
		return rollback(fmt.Errorf("アクセスキーの発行に失敗: %w", err))
	}

	p.logger.Info("クラウドアカウントを作成しました",
		slog.String("username", username),
		slog.Int("group_count", len(groups)),
	)

	return &model.Credentials{
		ConsoleURL:      p.consoleURL,
		Username:        username,
		Password:        password,
		AccessKeyID:     key.ID,
		SecretAccessKey: key.Secret,
	}, nil
}

// DestroyAccount はアカウントをクリーンアップして削除する。
// アカウントが存在しない場合は(false, nil)を返す（冪等）。
// クリーンアップの部分的な失敗はまとめて1つのエラーとして返す。
func (p *Provisioner) DestroyAccount(ctx context.Context, username string) (bool, error) {
	p.logger.Info("クラウドアカウントを破棄します",
		slog.String("username", username),
	)

	exists, err := p.AccountExists(ctx, username)
	if err != nil {
		return false, err
	}
	if !exists {
		p.logger.Warn("破棄対象のアカウントが存在しません",
			slog.String("username", username),
		)
		return false, nil
	}

	var errs []error
	if err := p.cleanupUser(ctx, username); err != nil {
		errs = append(errs, err)
	}
	if err := p.iam.DeleteUser(ctx, username); err != nil {
		errs = append(errs, fmt.Errorf("アイデンティティの削除に失敗: %w", err))
	}

	if len(errs) > 0 {
		return true, errors.Join(errs...)
	}
	return true, nil
}

// cleanupUser はアイデンティティ削除の前提となる依存リソースを除去する。
// 最初にログインプロファイルを削除し、クリーンアップ中にログインされる
// 余地をなくしてから残りの依存リソースを処理する。
// 各ステップは独立して失敗しうるベストエフォートであり、1つの失敗で
// 中断せず、発生した失敗をすべて集約して返す。
// 孤児クレデンシャルを1つ残す方が、全部を残すよりましである。
func (p *Provisioner) cleanupUser(ctx context.Context, username string) error {
	var errs []error

	capture := func(step string, err error) {
		if err != nil {
			p.logger.Error("クリーンアップステップに失敗しました",
				slog.String("username", username),
				slog.String("step", step),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", step, err))
		}
	}

	capture("ログインプロファイルの削除",
		p.iam.DeleteLoginProfile(ctx, username))

	keys, err := p.iam.ListAccessKeys(ctx, username)
	capture("アクセスキーの一覧取得", err)
	for _, keyID := range keys {
		capture(fmt.Sprintf("アクセスキー %s の削除", keyID),
			p.iam.DeleteAccessKey(ctx, username, keyID))
	}

	devices, err := p.iam.ListMFADevices(ctx, username)
	capture("MFAデバイスの一覧取得", err)
	for _, serial := range devices {
		capture(fmt.Sprintf("MFAデバイス %s の解除", serial),
			p.iam.DeactivateMFADevice(ctx, username, serial))
	}

	certs, err := p.iam.ListSigningCertificates(ctx, username)
	capture("署名証明書の一覧取得", err)
	for _, certID := range certs {
		capture(fmt.Sprintf("署名証明書 %s の削除", certID),
			p.iam.DeleteSigningCertificate(ctx, username, certID))
	}

	groups, err := p.iam.ListGroupsForUser(ctx, username)
	capture("グループの一覧取得", err)
	for _, group := range groups {
		capture(fmt.Sprintf("グループ %s からの除外", group),
			p.iam.RemoveUserFromGroup(ctx, username, group))
	}

	policies, err := p.iam.ListAttachedPolicies(ctx, username)
	capture("ポリシーの一覧取得", err)
	for _, policy := range policies {
		capture(fmt.Sprintf("ポリシー %s のデタッチ", policy),
			p.iam.DetachPolicy(ctx, username, policy))
	}

	return errors.Join(errs...)
}

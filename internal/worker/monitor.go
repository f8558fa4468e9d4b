package worker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/openbare/internal/mailer"
	"github.com/hitoshi/openbare/internal/metrics"
	"github.com/hitoshi/openbare/internal/model"
	"github.com/hitoshi/openbare/internal/repository"
)

// CheckinService は期限切れ貸出の強制返却に使うサービスインターフェース。
type CheckinService interface {
	Checkin(ctx context.Context, loanID, userID string) error
}

// Monitor は貸出の期限を監視するワーカー。
// 期限切れの貸出を自動返却し、期限が近い貸出に警告メールを送る。
type Monitor struct {
	lendables repository.LendableRepository
	library   CheckinService
	sender    mailer.Sender
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	interval time.Duration
	// warningDays は警告メールを送る期限までの残日数の閾値。降順で処理する。
	warningDays []int
	mailFrom    string

	now func() time.Time
}

// MonitorConfig はMonitorの動作設定。
type MonitorConfig struct {
	Interval    time.Duration
	WarningDays []int
	MailFrom    string
}

// NewMonitor はMonitorの新しいインスタンスを生成する。
func NewMonitor(
	lendables repository.LendableRepository,
	library CheckinService,
	sender mailer.Sender,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg MonitorConfig,
) *Monitor {
	days := append([]int(nil), cfg.WarningDays...)
	sort.Sort(sort.Reverse(sort.IntSlice(days)))
	return &Monitor{
		lendables:   lendables,
		library:     library,
		sender:      sender,
		metrics:     collector,
		logger:      logger,
		interval:    cfg.Interval,
		warningDays: days,
		mailFrom:    cfg.MailFrom,
		now:         time.Now,
	}
}

// Start は監視サイクルを定期実行する。contextのキャンセルで停止する。
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("期限モニタを開始します",
		slog.Duration("interval", m.interval),
		slog.Any("warning_days", m.warningDays),
	)

	m.RunOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("期限モニタを停止します")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce は期限切れ処理と警告通知を1回実行する。
func (m *Monitor) RunOnce(ctx context.Context) {
	m.RunExpiration(ctx)
	m.RunNotification(ctx)
}

// RunExpiration は期限切れの貸出を強制返却する。
// クリーンアップ失敗の警告は返却自体が成立しているため続行し、
// それ以外の失敗はログに記録して次の貸出へ進む。
func (m *Monitor) RunExpiration(ctx context.Context) {
	overdue, err := m.lendables.ListOverdue(ctx, m.now())
	if err != nil {
		m.logger.Error("期限切れ貸出の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, lendable := range overdue {
		log := m.logger.With(
			slog.String("lendable_id", lendable.ID),
			slog.String("user_id", lendable.UserID),
			slog.Time("due_on", lendable.DueOn),
		)

		if err := m.library.Checkin(ctx, lendable.ID, lendable.UserID); err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeTeardownFailed {
				log.Warn("期限切れ返却のクリーンアップに失敗しました（返却は成立）",
					slog.String("error", err.Error()),
				)
			} else {
				log.Error("期限切れ貸出の返却に失敗しました",
					slog.String("error", err.Error()),
				)
				continue
			}
		}

		log.Info("期限切れの貸出を返却しました")
		m.notify(ctx, lendable, func(kindName string) *mailer.Message {
			return mailer.NewOverdueNotice(m.mailFrom, lendable.UserID, lendable, kindName)
		})
	}
}

// RunNotification は期限が近い貸出へ警告メールを送る。
// 閾値は遠い順に処理し、通知済みの閾値はnotify_timerで判定して
// 同じ警告を二重に送らない。
func (m *Monitor) RunNotification(ctx context.Context) {
	now := m.now()
	for _, days := range m.warningDays {
		deadline := now.Add(time.Duration(days) * 24 * time.Hour)
		lendables, err := m.lendables.ListNeedingNotice(ctx, deadline, float64(days))
		if err != nil {
			m.logger.Error("警告対象の貸出の取得に失敗しました",
				slog.Int("days", days),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, lendable := range lendables {
			daysLeft := days
			sent := m.notify(ctx, lendable, func(kindName string) *mailer.Message {
				return mailer.NewExpiryWarning(m.mailFrom, lendable.UserID, lendable, kindName, daysLeft)
			})
			if !sent {
				continue
			}

			// 実際の残日数を記録し、同じ閾値での再通知を防ぐ
			remaining := lendable.DueOn.Sub(now).Hours() / 24
			if err := m.lendables.UpdateNotifyTimer(ctx, lendable.ID, remaining); err != nil {
				m.logger.Error("通知タイマーの更新に失敗しました",
					slog.String("lendable_id", lendable.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// notify は通知メールを1通送信する。成功したかどうかを返す。
func (m *Monitor) notify(ctx context.Context, lendable *model.Lendable, build func(kindName string) *mailer.Message) bool {
	kindName := lendable.Kind
	if kind := model.KindOf(lendable.Kind); kind != nil {
		kindName = kind.Name
	}

	msg := build(kindName)
	if err := m.sender.Send(ctx, msg); err != nil {
		m.metrics.RecordNotificationFailure()
		m.logger.Error("通知メールの送信に失敗しました",
			slog.String("lendable_id", lendable.ID),
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return false
	}

	m.metrics.RecordNotificationSent()
	return true
}

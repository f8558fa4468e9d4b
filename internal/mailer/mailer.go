// Package mailer はユーザーへのメール通知を提供する。
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Message は送信するメール1通。
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPSender はSMTP経由でメールを送信するSender実装。
// 認証なしの内部リレーを想定している。
type SMTPSender struct {
	addr string
}

// NewSMTPSender はSMTPSenderの新しいインスタンスを生成する。
// addrは "host:port" 形式。
func NewSMTPSender(addr string) *SMTPSender {
	return &SMTPSender{addr: addr}
}

// Send はメッセージをSMTPで送信する。
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(s.addr, nil, msg.From, msg.To, []byte(b.String())); err != nil {
		return fmt.Errorf("メールの送信に失敗しました: %w", err)
	}
	return nil
}

// LogSender はメールを送信せずログに記録するSender実装。
// SMTPが設定されていない開発環境で使用する。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderの新しいインスタンスを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send はメッセージの内容をログに出力する。
func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.logger.Info("メールをログに出力します（SMTP未設定）",
		slog.String("to", strings.Join(msg.To, ", ")),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}

// compile-time interface checks
var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)

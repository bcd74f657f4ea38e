package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
	ChannelEmail   Channel = "email"
)

// Event 描述一次需要告警的事件。中继流水线与确认轮询共用该结构，
// Stage 标识事件发生的环节（fund、submit、confirm 等）。
type Event struct {
	Code        xerrors.Code      `json:"code"`
	Message     string            `json:"message"`
	Severity    xerrors.Severity  `json:"severity"`
	IntentID    string            `json:"intent_id,omitempty"`
	TxID        string            `json:"txid,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	Attempts    int               `json:"attempts,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。同渠道的通知器后注册的覆盖
// 先注册的。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写入结构化日志，是兜底渠道。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 按严重级别落一条日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := n.Logger
	if log == nil {
		log = logger.L()
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("intent_id", event.IntentID),
		slog.String("stage", event.Stage),
	}
	if event.TxID != "" {
		attrs = append(attrs, slog.String("txid", event.TxID))
	}
	if event.MaxAttempts > 0 {
		attrs = append(attrs, slog.Int("attempts", event.Attempts), slog.Int("max_attempts", event.MaxAttempts))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	if event.Severity == xerrors.SeverityCritical {
		log.Error(event.Message, attrs...)
	} else {
		log.Warn(event.Message, attrs...)
	}
	return nil
}

// WebhookNotifier 把事件以 JSON 形式 POST 到外部回调地址。
type WebhookNotifier struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

// Channel 返回回调渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 推送事件。非 2xx 响应视为发送失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.Endpoint) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("intent_id", event.IntentID))
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警事件失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("推送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("告警回调返回状态 %d", resp.StatusCode)
	}
	return nil
}

// EmailSender 定义发送邮件所需的能力。
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier 通过邮件发送告警。
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

// Channel 返回邮件渠道。
func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify 发送邮件。
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("EmailNotifier 未正确配置，跳过发送", slog.String("intent_id", event.IntentID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	content := fmt.Sprintf("告警时间: %s\n意向: %s\n交易: %s\n阶段: %s\n错误码: %s\n描述: %s",
		event.OccurredAt.Format(time.RFC3339), event.IntentID, event.TxID, event.Stage, event.Code, event.Message)
	if event.MaxAttempts > 0 {
		content += fmt.Sprintf("\n轮询: %d/%d", event.Attempts, event.MaxAttempts)
	}
	if len(event.Metadata) > 0 {
		content += "\n详情:\n"
		for k, v := range event.Metadata {
			content += fmt.Sprintf("- %s: %s\n", k, v)
		}
	}
	return n.Sender.Send(ctx, subject, content, n.To)
}

// SMTPSender 用标准 SMTP 投递邮件。
type SMTPSender struct {
	Addr     string
	Username string
	Password string
	From     string
}

// Send 组装并发送一封纯文本邮件。smtp.SendMail 不感知上下文取消，
// 调用方通过外层超时约束它。
func (s *SMTPSender) Send(ctx context.Context, subject, content string, to []string) error {
	if s == nil || strings.TrimSpace(s.Addr) == "" || strings.TrimSpace(s.From) == "" {
		return errors.New("SMTP 发送器未正确配置")
	}
	var msg strings.Builder
	msg.WriteString("From: " + s.From + "\r\n")
	msg.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(content)

	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	return smtp.SendMail(s.Addr, auth, s.From, to, []byte(msg.String()))
}

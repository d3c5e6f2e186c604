package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "R0-Agent/internal/errors"
)

type stubEmailSender struct {
	subject string
	content string
	to      []string
	err     error
}

func (s *stubEmailSender) Send(_ context.Context, subject, content string, to []string) error {
	s.subject, s.content, s.to = subject, content, to
	return s.err
}

type stubDingTalkSender struct {
	payload string
}

func (s *stubDingTalkSender) Send(_ context.Context, content string) error {
	s.payload = content
	return nil
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeExchangeReject,
		Message:    "insufficient balance",
		Severity:   xerrors.SeverityWarning,
		TurnID:     "turn-1",
		Attempts:   2,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "terminal"},
		OccurredAt: time.Unix(1700000000, 0),
	}
}

func TestFanoutBroadcastsToAllChannels(t *testing.T) {
	email := &stubEmailSender{}
	ding := &stubDingTalkSender{}
	dispatcher := NewFanout(
		&EmailNotifier{Sender: email, To: []string{"ops@example.com"}, SubjectPrefix: "[R0]"},
		&DingTalkNotifier{Sender: ding},
	)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("广播失败: %v", err)
	}
	if !strings.Contains(email.subject, "EXCHANGE_REJECT") {
		t.Fatalf("邮件主题不正确: %q", email.subject)
	}
	if !strings.Contains(email.content, "回合: turn-1") {
		t.Fatalf("邮件正文缺少回合信息: %q", email.content)
	}
	if !strings.Contains(ding.payload, "insufficient balance") {
		t.Fatalf("钉钉消息缺少错误描述: %q", ding.payload)
	}
}

func TestFanoutCollectsErrors(t *testing.T) {
	failed := &stubEmailSender{err: errors.New("smtp down")}
	dispatcher := NewFanout(&EmailNotifier{Sender: failed, To: []string{"ops@example.com"}})

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("发送失败应当上抛: %v", err)
	}
}

func TestMisconfiguredNotifierIsSkipped(t *testing.T) {
	dispatcher := NewFanout(&EmailNotifier{}, &SlackNotifier{})
	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("未配置的通知器应跳过而非报错: %v", err)
	}
}

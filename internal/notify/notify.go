package notify

import (
	"context"
	"time"
)

// Kind 提案生命周期事件类型。
type Kind string

const (
	KindPrepared  Kind = "prepared"
	KindConfirmed Kind = "confirmed"
	KindCancelled Kind = "cancelled"
	KindFailed    Kind = "failed"
)

// Event 描述一次提案生命周期变化，供下游审计或风控消费。
type Event struct {
	SessionID string         `json:"session_id"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Notifier 将生命周期事件发布到外部系统。
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopNotifier 丢弃所有事件，未配置消息队列时使用。
type NopNotifier struct{}

// Publish 实现 Notifier 接口。
func (NopNotifier) Publish(context.Context, Event) error { return nil }

// Close 实现 Notifier 接口。
func (NopNotifier) Close() error { return nil }

package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "SendPilot/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 事件发布的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// RabbitMQNotifier 将提案生命周期事件以 JSON 投递到 RabbitMQ 队列。
type RabbitMQNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQNotifier 建立连接并声明目标队列。
func NewRabbitMQNotifier(cfg RabbitMQConfig) (*RabbitMQNotifier, error) {
	if cfg.URL == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "sendpilot.proposals"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendConnection, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.CodeBackendConnection, err, "创建 RabbitMQ channel 失败")
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, apperrors.Wrap(apperrors.CodeBackendConnection, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQNotifier{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 实现 Notifier 接口。
func (n *RabbitMQNotifier) Publish(ctx context.Context, event Event) error {
	if n == nil || n.ch == nil {
		return apperrors.New(apperrors.CodeInitializationFailure, "RabbitMQ 通知器未初始化")
	}
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeExecutorFailure, err, "序列化事件失败")
	}
	return n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close 实现 Notifier 接口。
func (n *RabbitMQNotifier) Close() error {
	if n == nil {
		return nil
	}
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

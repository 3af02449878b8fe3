package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tokmz/wsecho/pkg/logger"
	"github.com/tokmz/wsecho/pkg/store"
	"github.com/tokmz/wsecho/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Dispatcher 消息分发器
// 每条消息独立处理，连接之间没有任何门控
type Dispatcher struct {
	registry     *Registry
	policy       Policy
	gateway      store.Gateway
	events       *EventBus
	stats        *Stats
	log          logger.Logger
	storeTimeout time.Duration
}

// NewDispatcher 创建分发器
// gateway 可为 nil，此时跳过存储副作用
func NewDispatcher(registry *Registry, policy Policy, gateway store.Gateway, events *EventBus, stats *Stats, log logger.Logger, storeTimeout time.Duration) *Dispatcher {
	if stats == nil {
		stats = &Stats{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		registry:     registry,
		policy:       policy,
		gateway:      gateway,
		events:       events,
		stats:        stats,
		log:          log,
		storeTimeout: storeTimeout,
	}
}

// Handle 处理一条入站消息
// 存储失败只上报，回显照常发送；连接已不在注册表时丢弃并返回 ErrConnectionGone
func (d *Dispatcher) Handle(ctx context.Context, connID, payload string) error {
	ctx, span := tracing.StartSpan(ctx, "ws.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("ws.conn_id", connID),
		attribute.Int("ws.payload_size", len(payload)),
	)

	d.stats.messagesReceived.Add(1)

	var count *int64
	if d.policy.NeedsStore() && d.gateway != nil {
		if n, err := d.countRecords(ctx); err != nil {
			d.stats.storeFailures.Add(1)
			tracing.RecordError(span, err)
			d.log.WarnContext(ctx, "store side effect failed", zap.Error(err))
			if d.events != nil {
				d.events.Publish(Event{Type: EventStoreFailed, ConnID: connID, Err: err})
			}
		} else {
			count = &n
			span.SetAttributes(attribute.Int64("store.count", n))
		}
	}

	response := d.policy.Respond(payload, count)

	conn, ok := d.registry.Get(connID)
	if !ok {
		d.stats.dropped.Add(1)
		d.log.DebugContext(ctx, "response dropped, connection gone")
		return ErrConnectionGone
	}

	if err := conn.Send(ctx, response); err != nil {
		d.stats.sendFailures.Add(1)
		tracing.RecordError(span, err)
		conn.Close(websocket.CloseInternalServerErr, "send failed")
		return err
	}
	return nil
}

func (d *Dispatcher) countRecords(ctx context.Context) (int64, error) {
	if d.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.storeTimeout)
		defer cancel()
	}
	return d.gateway.CountRecords(ctx)
}

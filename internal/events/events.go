// Package events 在 WorkItem 进入终态后对外广播通知。
//
// 事件以 msgpack 编码发布到 NATS 主题 <prefix>.<status>，
// 追踪上下文写入消息头。发布是尽力而为的：失败只记录日志，不影响处理结果。
package events

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/connector"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/trace"
	"github.com/ceyewan/scribesnap/xerrors"
)

// Event WorkItem 终态通知
type Event struct {
	ID           string    `msgpack:"id"`
	Status       string    `msgpack:"status"`
	AttemptCount int       `msgpack:"attempt_count"`
	ErrorDetail  string    `msgpack:"error_detail,omitempty"`
	OccurredAt   time.Time `msgpack:"occurred_at"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Config 事件配置
type Config struct {
	// Enabled 为 false 时使用 Noop 发布器
	Enabled bool `mapstructure:"enabled"`

	// SubjectPrefix 主题前缀，默认 "scribesnap.notes"
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

func (c *Config) setDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "scribesnap.notes"
	}
}

// Subject 返回 status 对应的发布主题
func (c *Config) Subject(status string) string {
	return c.SubjectPrefix + "." + status
}

type natsPublisher struct {
	cfg     Config
	conn    connector.NATSConnector
	logger  clog.Logger
	metrics *publisherMetrics
}

// NewNATS 创建基于 NATS 的发布器，连接器由调用方管理
func NewNATS(conn connector.NATSConnector, cfg *Config, opts ...Option) (Publisher, error) {
	if conn == nil {
		return nil, ErrConnectorNil
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	o.logger.Info("event publisher created", clog.String("subject_prefix", c.SubjectPrefix))
	return &natsPublisher{
		cfg:     c,
		conn:    conn,
		logger:  o.logger,
		metrics: newPublisherMetrics(o.meter),
	}, nil
}

func (p *natsPublisher) Publish(ctx context.Context, ev Event) error {
	subject := p.cfg.Subject(ev.Status)

	ctx, span, headers := trace.StartProducerSpan(ctx, trace.Tracer("events"), trace.SpanNameMQPublish(subject),
		trace.MessagingMeta{
			System:      trace.MessagingSystemNATS,
			Destination: subject,
			Operation:   trace.MessagingOperationPublish,
		},
		attribute.String("work_item.id", ev.ID))
	defer span.End()

	err := p.publish(subject, ev, headers)
	trace.MarkSpanError(span, err)
	p.metrics.publish(ctx, ev.Status, err == nil)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to publish event",
			clog.String("subject", subject),
			clog.String("id", ev.ID),
			clog.Error(err))
		return err
	}
	p.logger.DebugContext(ctx, "event published", clog.String("subject", subject), clog.String("id", ev.ID))
	return nil
}

func (p *natsPublisher) publish(subject string, ev Event, headers map[string]string) error {
	nc := p.conn.GetClient()
	if nc == nil || !nc.IsConnected() {
		return ErrNotConnected
	}
	data, err := Encode(ev)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if err := nc.PublishMsg(msg); err != nil {
		return xerrors.Wrapf(err, "events: publish %s", subject)
	}
	return nil
}

// Encode 将事件编码为 msgpack
func Encode(ev Event) ([]byte, error) {
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return nil, xerrors.Wrap(err, "events: encode")
	}
	return data, nil
}

// Decode 解码 msgpack 事件
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return Event{}, xerrors.Wrap(err, "events: decode")
	}
	return ev, nil
}

// HeadersOf 提取 NATS 消息头，用于 trace.Extract
func HeadersOf(msg *nats.Msg) map[string]string {
	out := make(map[string]string, len(msg.Header))
	for k := range msg.Header {
		out[k] = msg.Header.Get(k)
	}
	return out
}

type noopPublisher struct{}

// Noop 返回丢弃所有事件的发布器
func Noop() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, Event) error { return nil }

// Package workflow 编排一次笔记上传的完整处理流程：
//
//	校验 -> 保存文件 -> 创建记录(processing) -> 受保护的文本提取 -> 写入终态 -> 发布事件
//
// 受保护的文本提取由熔断器和重试器组合而成：第一次 attempt 前做一次熔断准入检查，
// 被拒绝时不发起任何上游调用；准入后最多重试 MaxAttempts 次，
// 整个重试过程只向熔断器报告一个结果。
//
// 记录创建成功后，流程一定会尝试把它落到 completed 或 failed；
// 调用方取消时，失败状态通过脱离取消信号的 context 写入，
// 写入本身失败的记录由 reconcile 包兜底。
package workflow

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/scribesnap/breaker"
	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/internal/blob"
	"github.com/ceyewan/scribesnap/internal/events"
	"github.com/ceyewan/scribesnap/internal/extraction"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/retry"
	"github.com/ceyewan/scribesnap/trace"
	"github.com/ceyewan/scribesnap/xerrors"
)

// Config 编排配置
type Config struct {
	// MaxFileSize 单个文件上限（字节），默认 10MB
	MaxFileSize int64 `mapstructure:"max_file_size"`

	// AllowedExtensions 允许的扩展名（小写、不含点），默认 png/jpg/jpeg
	AllowedExtensions []string `mapstructure:"allowed_extensions"`

	// Retry 文本提取的重试配置
	Retry retry.Config `mapstructure:"retry"`

	// UnavailableRetryAfter 重试耗尽后建议客户端等待的时间，默认 60s（与熔断恢复时间一致）
	UnavailableRetryAfter time.Duration `mapstructure:"unavailable_retry_after"`

	// FinalizeTimeout 调用方取消后写入失败状态的超时时间，默认 5s
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
}

func (c *Config) setDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10 * 1024 * 1024
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = []string{"png", "jpg", "jpeg"}
	}
	if c.Retry.Name == "" {
		c.Retry.Name = "extraction"
	}
	if c.UnavailableRetryAfter == 0 {
		c.UnavailableRetryAfter = 60 * time.Second
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.MaxFileSize < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "max file size must not be negative")
	}
	if c.UnavailableRetryAfter < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "unavailable retry after must not be negative")
	}
	return nil
}

// Dependencies 编排器依赖的组件，全部必填
type Dependencies struct {
	Blobs     blob.Store
	Store     store.Store
	Extractor extraction.Client
	Breaker   breaker.Breaker
}

func (d Dependencies) validate() error {
	switch {
	case d.Blobs == nil:
		return xerrors.Wrap(ErrMissingDependency, "blob store")
	case d.Store == nil:
		return xerrors.Wrap(ErrMissingDependency, "work item store")
	case d.Extractor == nil:
		return xerrors.Wrap(ErrMissingDependency, "extraction client")
	case d.Breaker == nil:
		return xerrors.Wrap(ErrMissingDependency, "circuit breaker")
	}
	return nil
}

// Orchestrator 上传处理编排器，并发安全
type Orchestrator struct {
	cfg       Config
	blobs     blob.Store
	items     store.Store
	extractor extraction.Client
	breaker   breaker.Breaker
	retrier   *retry.Retrier
	publisher events.Publisher
	logger    clog.Logger
	metrics   *workflowMetrics
	tracer    oteltrace.Tracer
	now       func() time.Time
}

// New 创建编排器
func New(cfg *Config, deps Dependencies, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	c := *cfg
	c.AllowedExtensions = slices.Clone(cfg.AllowedExtensions)
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger:    clog.Discard(),
		meter:     metrics.Discard(),
		publisher: events.Noop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	retryOpts := append([]retry.Option{
		retry.WithLogger(o.logger),
		retry.WithMeter(o.meter),
		retry.WithClassifier(classify),
	}, o.retryOptions...)
	retrier, err := retry.New(&c.Retry, retryOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "workflow: build retrier")
	}
	c.Retry = retrier.Config()

	return &Orchestrator{
		cfg:       c,
		blobs:     deps.Blobs,
		items:     deps.Store,
		extractor: deps.Extractor,
		breaker:   deps.Breaker,
		retrier:   retrier,
		publisher: o.publisher,
		logger:    o.logger,
		metrics:   newWorkflowMetrics(o.meter),
		tracer:    trace.Tracer("workflow"),
		now:       o.now,
	}, nil
}

// Config 返回生效的配置
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Process 处理一次上传
//
// 成功时返回 completed 状态的记录；失败时返回 *Failure。
// 校验或存储失败不会留下任何记录；记录创建之后的失败会把记录置为 failed。
func (o *Orchestrator) Process(ctx context.Context, up Upload) (item *store.WorkItem, err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "workflow.process", oteltrace.WithAttributes(
		attribute.String("upload.filename", up.Filename),
		attribute.Int("upload.size", len(up.Data)),
	))
	defer func() {
		outcome := string(store.StatusCompleted)
		if err != nil {
			outcome = AsFailure(err).Kind.String()
			trace.MarkSpanError(span, err)
		}
		o.metrics.observe(ctx, outcome, time.Since(start))
		span.End()
	}()

	ext, mime, f := o.validate(up)
	if f != nil {
		o.logger.InfoContext(ctx, "upload rejected",
			clog.String("filename", up.Filename),
			clog.String("reason", f.Message))
		return nil, f
	}

	created, err := o.persist(ctx, up.Data, ext)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("work_item.id", created.ID))

	text, callErr := o.extract(ctx, blob.Object{
		Ref:      blob.Ref(created.BlobRef),
		MIMEType: mime,
		Data:     up.Data,
	})
	if callErr == nil && ctx.Err() != nil {
		// 提取已经成功，但调用方已经离开，不写 completed
		callErr = &retry.Error{Reason: retry.ReasonCanceled, Attempts: 1, Last: ctx.Err()}
	}
	if callErr != nil {
		return nil, o.fail(ctx, created, callErr)
	}
	return o.complete(ctx, created, text)
}

// persist 保存文件并创建 processing 记录；记录创建失败时尽力删除已保存的文件
func (o *Orchestrator) persist(ctx context.Context, data []byte, ext string) (*store.WorkItem, error) {
	ctx, span := o.tracer.Start(ctx, "workflow.persist")
	defer span.End()

	ref, err := o.blobs.Put(ctx, data, ext)
	if err != nil {
		trace.MarkSpanError(span, err)
		o.logger.ErrorContext(ctx, "failed to store upload", clog.Error(err))
		return nil, &Failure{Kind: KindStorageFailed, Message: msgStorage, Cause: err}
	}

	item := &store.WorkItem{BlobRef: ref.String()}
	if err := o.items.Create(ctx, item); err != nil {
		trace.MarkSpanError(span, err)
		o.logger.ErrorContext(ctx, "failed to create work item",
			clog.String("blob_ref", ref.String()),
			clog.Error(err))
		if derr := o.blobs.Delete(context.WithoutCancel(ctx), ref); derr != nil {
			o.logger.WarnContext(ctx, "failed to remove orphaned upload",
				clog.String("blob_ref", ref.String()),
				clog.Error(derr))
		}
		return nil, &Failure{Kind: KindStorageFailed, Message: msgStorage, Cause: err}
	}

	o.logger.InfoContext(ctx, "work item created",
		clog.String("id", item.ID),
		clog.String("blob_ref", item.BlobRef))
	return item, nil
}

// extract 受保护的文本提取：一次熔断准入，最多 MaxAttempts 次调用，一次结果上报
func (o *Orchestrator) extract(ctx context.Context, obj blob.Object) (string, error) {
	ctx, span := o.tracer.Start(ctx, "workflow.extract", oteltrace.WithAttributes(
		attribute.String("breaker.name", o.breaker.Name()),
	))
	defer span.End()

	var (
		text     string
		done     breaker.DoneFunc
		attempts int
	)
	err := o.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		if done == nil {
			d, err := o.breaker.Allow()
			if err != nil {
				return err
			}
			done = d
		}
		attempts = attempt
		out, err := o.extractor.Extract(ctx, obj)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if done != nil {
		done(outcomeOf(err))
	}

	span.SetAttributes(attribute.Int("extraction.attempts", attempts))
	if err != nil {
		trace.MarkSpanError(span, err)
		return "", err
	}
	return text, nil
}

// classify 熔断拒绝不算一次 attempt；上游明确拒绝的请求不重试
func classify(err error) retry.Class {
	switch {
	case xerrors.Is(err, breaker.ErrOpen):
		return retry.ClassRejected
	case xerrors.Is(err, extraction.ErrPermanent), retry.IsPermanent(err):
		return retry.ClassNonRetryable
	default:
		return retry.ClassRetryable
	}
}

func outcomeOf(err error) breaker.Outcome {
	switch {
	case err == nil:
		return breaker.OutcomeSuccess
	case xerrors.Is(err, retry.ErrCanceled):
		return breaker.OutcomeIgnored
	default:
		return breaker.OutcomeFailure
	}
}

func (o *Orchestrator) complete(ctx context.Context, item *store.WorkItem, text string) (*store.WorkItem, error) {
	completed, err := o.items.Complete(ctx, item.ID, text)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to record extraction result",
			clog.String("id", item.ID),
			clog.Error(err))
		return nil, &Failure{
			Kind:    KindStorageFailed,
			Message: msgStorage,
			Details: map[string]any{"id": item.ID},
			Cause:   err,
		}
	}

	o.logger.InfoContext(ctx, "work item completed",
		clog.String("id", completed.ID),
		clog.Int("text_length", len(text)))
	o.publish(ctx, completed)
	return completed, nil
}

// fail 把记录置为 failed 并返回对外的 *Failure
func (o *Orchestrator) fail(ctx context.Context, item *store.WorkItem, callErr error) error {
	f, detail := o.failureOf(callErr)
	if f.Details == nil {
		f.Details = map[string]any{}
	}
	f.Details["id"] = item.ID

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FinalizeTimeout)
	defer cancel()

	failed, err := o.items.Fail(finalCtx, item.ID, detail)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to record extraction failure",
			clog.String("id", item.ID),
			clog.Error(err))
	} else {
		o.publish(finalCtx, failed)
	}

	o.logger.WarnContext(ctx, "work item failed",
		clog.String("id", item.ID),
		clog.String("kind", f.Kind.String()),
		clog.Error(callErr))
	return f
}

// failureOf 把受保护调用的错误映射为对外的 *Failure 和持久化的错误详情
func (o *Orchestrator) failureOf(err error) (*Failure, string) {
	var rerr *retry.Error
	if !xerrors.As(err, &rerr) {
		return &Failure{Kind: KindUnknown, Message: msgUnknown, Cause: err}, detailFinalizeError
	}

	switch rerr.Reason {
	case retry.ReasonRejected:
		retryAfter, _ := breaker.RetryAfter(err)
		return &Failure{
			Kind:       KindBreakerOpen,
			Message:    msgBreakerOpen,
			RetryAfter: retryAfter,
			Cause:      err,
		}, detailBreakerOpen
	case retry.ReasonExhausted:
		return &Failure{
			Kind:       KindRetryExhausted,
			Message:    msgRetryExhausted,
			RetryAfter: o.cfg.UnavailableRetryAfter,
			Details:    map[string]any{"attempts": rerr.Attempts},
			Cause:      err,
		}, fmt.Sprintf(detailExhaustedFmt, rerr.Attempts)
	case retry.ReasonNonRetryable:
		return &Failure{
			Kind:    KindRetryExhausted,
			Message: msgRetryExhausted,
			Details: map[string]any{"attempts": rerr.Attempts},
			Cause:   err,
		}, detailPermanent
	default:
		return &Failure{Kind: KindUnknown, Message: msgCanceled, Cause: err}, detailCanceled
	}
}

func (o *Orchestrator) publish(ctx context.Context, item *store.WorkItem) {
	ev := events.Event{
		ID:           item.ID,
		Status:       string(item.Status),
		AttemptCount: item.AttemptCount,
		ErrorDetail:  item.ErrorDetail,
		OccurredAt:   item.UpdatedAt,
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.WarnContext(ctx, "failed to publish work item event",
			clog.String("id", item.ID),
			clog.String("status", ev.Status),
			clog.Error(err))
	}
}

// Get 按 ID 读取记录
func (o *Orchestrator) Get(ctx context.Context, id string) (*store.WorkItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, validationFailure("Invalid note ID format", map[string]any{"id": id})
	}
	item, err := o.items.Get(ctx, id)
	switch {
	case xerrors.Is(err, store.ErrNotFound):
		return nil, &Failure{Kind: KindNotFound, Message: msgNotFound, Details: map[string]any{"id": id}, Cause: err}
	case err != nil:
		return nil, &Failure{Kind: KindStorageFailed, Message: msgStorage, Cause: err}
	}
	return item, nil
}

// Query 列表查询参数
type Query struct {
	Status string
	From   time.Time
	To     time.Time
	Limit  int
	Cursor string
	Sort   string
}

// List 分页查询记录
func (o *Orchestrator) List(ctx context.Context, q Query) (*store.ListResult, error) {
	result, err := o.items.List(ctx,
		store.Filter{Status: store.Status(q.Status), From: q.From, To: q.To},
		store.Page{Limit: q.Limit, Cursor: q.Cursor, Sort: q.Sort})
	switch {
	case xerrors.Is(err, store.ErrInvalidCursor):
		return nil, validationFailure("Invalid pagination cursor", map[string]any{"cursor": q.Cursor})
	case xerrors.Is(err, xerrors.ErrInvalidInput):
		return nil, &Failure{Kind: KindValidationFailed, Message: "Invalid query parameters", Cause: err}
	case err != nil:
		return nil, &Failure{Kind: KindStorageFailed, Message: msgStorage, Cause: err}
	}
	return result, nil
}

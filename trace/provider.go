package trace

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/ceyewan/scribesnap/xerrors"
)

// Init 创建导出到 OTLP 的 TracerProvider 并设为全局，同时设置 W3C 传播器。
//
// 返回的 shutdown 需要在进程退出前调用，以刷新未导出的 span。
// cfg.Enabled 为 false 时等同于 Discard。
func Init(cfg *Config) (func(context.Context) error, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "trace: config is required")
	}
	if !cfg.Enabled {
		return Discard(cfg.ServiceName)
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(c.Endpoint),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if c.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "trace: create otlp exporter")
	}

	export := sdktrace.WithBatcher(exporter)
	if c.Batcher == BatcherSimple {
		export = sdktrace.WithSyncer(exporter)
	}
	return install(ctx, c.ServiceName, c.Version, c.Sampler, export)
}

// Discard 创建不导出的 TracerProvider：请求仍然拿到 TraceID，日志可以按它关联
func Discard(serviceName string) (func(context.Context) error, error) {
	return install(context.Background(), serviceName, "", 1.0)
}

func install(ctx context.Context, serviceName, version string, sampler float64, opts ...sdktrace.TracerProviderOption) (func(context.Context) error, error) {
	res, err := newResource(ctx, serviceName, version)
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampler))),
	)
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newResource(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
	var opts []resource.Option
	if serviceName != "" {
		opts = append(opts, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	}
	if version != "" {
		opts = append(opts, resource.WithAttributes(semconv.ServiceVersionKey.String(version)))
	}
	res, err := resource.New(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "trace: create resource")
	}
	return res, nil
}

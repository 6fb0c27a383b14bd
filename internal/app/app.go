// Package app 负责装配 scribesnap 的全部组件并管理它们的生命周期。
//
// 装配顺序：
//
//	日志 / 指标 / 追踪 → 连接器 (sqlite|mysql|postgres, redis, nats)
//	→ 组件 (store, blob, extraction, breaker, ratelimit, events)
//	→ 服务 (workflow, api, reconcile)
//
// 每打开一个资源就登记一次关闭函数，Close 按逆序释放，
// 初始化中途失败时调用方同样只需调用 Close。
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/ceyewan/scribesnap/breaker"
	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/config"
	"github.com/ceyewan/scribesnap/connector"
	"github.com/ceyewan/scribesnap/db"
	"github.com/ceyewan/scribesnap/internal/api"
	"github.com/ceyewan/scribesnap/internal/blob"
	"github.com/ceyewan/scribesnap/internal/events"
	"github.com/ceyewan/scribesnap/internal/extraction"
	"github.com/ceyewan/scribesnap/internal/reconcile"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/internal/workflow"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/ratelimit"
	"github.com/ceyewan/scribesnap/trace"
	"github.com/ceyewan/scribesnap/xerrors"
)

var (
	ErrConfigNil = xerrors.New("app: config is nil")
	ErrNotBuilt  = xerrors.New("app: Build must be called before Serve")
)

// Option 应用选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	blobs  []blob.Option
}

// WithLogger 使用外部 Logger，不再按 Config.Log 创建
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeter 使用外部 Meter，不再按 Config.Metrics 创建
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithBlobOptions 追加 blob 存储选项，例如替换文件系统
func WithBlobOptions(opts ...blob.Option) Option {
	return func(o *options) {
		o.blobs = append(o.blobs, opts...)
	}
}

// App 已装配的应用
type App struct {
	cfg    Config
	opts   *options
	logger clog.Logger
	meter  metrics.Meter
	life   lifecycle

	store        store.Store
	publisher    events.Publisher
	orchestrator *workflow.Orchestrator
	handler      *gin.Engine
	sweeper      *reconcile.Sweeper
}

// New 初始化可观测性组件，其余组件在 OpenStore / Build 中按需创建
func New(cfg *Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{cfg: *cfg, opts: o}
	if err := a.initObservability(); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) initObservability() error {
	a.logger = a.opts.logger
	if a.logger == nil {
		logger, err := clog.New(&a.cfg.Log, clog.WithStandardContext(), clog.WithTraceContext())
		if err != nil {
			return xerrors.Wrap(err, "app: create logger")
		}
		a.logger = logger
		a.life.register("logger", PhaseObservability, func(context.Context) error {
			logger.Flush()
			return nil
		})
	}

	a.meter = a.opts.meter
	if a.meter == nil {
		if a.cfg.Metrics.Version == "" {
			a.cfg.Metrics.Version = Version
		}
		meter, err := metrics.New(&a.cfg.Metrics, metrics.WithLogger(a.logger))
		if err != nil {
			return xerrors.Wrap(err, "app: create meter")
		}
		a.meter = meter
		a.life.register("meter", PhaseObservability, meter.Shutdown)
	}

	var (
		shutdown func(context.Context) error
		err      error
	)
	if a.cfg.Trace.Enabled {
		if a.cfg.Trace.Version == "" {
			a.cfg.Trace.Version = Version
		}
		shutdown, err = trace.Init(&a.cfg.Trace)
	} else {
		shutdown, err = trace.Discard(ServiceName)
	}
	if err != nil {
		return xerrors.Wrap(err, "app: init tracing")
	}
	a.life.register("tracer", PhaseObservability, shutdown)
	return nil
}

// Logger 返回应用 Logger
func (a *App) Logger() clog.Logger { return a.logger }

// Handler 返回 HTTP 路由，Build 之前为 nil
func (a *App) Handler() http.Handler {
	if a.handler == nil {
		return nil
	}
	return a.handler
}

// Orchestrator 返回处理编排器，Build 之前为 nil
func (a *App) Orchestrator() *workflow.Orchestrator { return a.orchestrator }

// OpenStore 连接数据库并创建 WorkItem 存储，重复调用返回同一实例
func (a *App) OpenStore(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	dbOpt, err := a.openDatabase(ctx)
	if err != nil {
		return nil, err
	}

	database, err := db.New(&db.Config{
		Driver:        a.cfg.Database.Driver,
		SlowThreshold: a.cfg.Database.SlowThreshold,
		EnableTracing: a.cfg.Database.EnableTracing,
	}, dbOpt, db.WithLogger(a.logger), db.WithTracer(otel.GetTracerProvider()))
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create db")
	}
	a.life.register("db", PhaseComponent, func(context.Context) error { return database.Close() })

	items, err := store.New(database, &a.cfg.Cache, store.WithLogger(a.logger), store.WithMeter(a.meter))
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create store")
	}
	if a.cfg.Database.AutoMigrate {
		if err := items.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	a.store = items
	return items, nil
}

func (a *App) openDatabase(ctx context.Context) (db.Option, error) {
	connOpts := []connector.Option{connector.WithLogger(a.logger), connector.WithMeter(a.meter)}

	var (
		conn connector.Connector
		opt  db.Option
	)
	switch a.cfg.Database.Driver {
	case db.DriverSQLite, "":
		c, err := connector.NewSQLite(&a.cfg.Database.SQLite, connOpts...)
		if err != nil {
			return nil, err
		}
		conn, opt = c, db.WithSQLiteConnector(c)
	case db.DriverMySQL:
		c, err := connector.NewMySQL(&a.cfg.Database.MySQL, connOpts...)
		if err != nil {
			return nil, err
		}
		conn, opt = c, db.WithMySQLConnector(c)
	case db.DriverPostgreSQL:
		c, err := connector.NewPostgreSQL(&a.cfg.Database.Postgres, connOpts...)
		if err != nil {
			return nil, err
		}
		conn, opt = c, db.WithPostgreSQLConnector(c)
	default:
		return nil, config.WrapValidationError(fmt.Errorf("unsupported database driver %q", a.cfg.Database.Driver))
	}

	if err := a.connect(ctx, "database", conn); err != nil {
		return nil, err
	}
	return opt, nil
}

func (a *App) connect(ctx context.Context, name string, conn connector.Connector) error {
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return xerrors.Wrapf(err, "app: connect %s", name)
	}
	a.life.register(name, PhaseConnector, func(context.Context) error { return conn.Close() })
	return nil
}

// Build 装配处理链路和 HTTP 路由
func (a *App) Build(ctx context.Context) error {
	items, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}

	blobs, err := blob.New(&a.cfg.Storage, append([]blob.Option{blob.WithLogger(a.logger)}, a.opts.blobs...)...)
	if err != nil {
		return xerrors.Wrap(err, "app: create blob store")
	}

	extractor, err := extraction.New(&a.cfg.Extraction, extraction.WithLogger(a.logger), extraction.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create extraction client")
	}

	cb, err := breaker.New(&a.cfg.Breaker, breaker.WithLogger(a.logger), breaker.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create breaker")
	}

	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return err
	}

	a.orchestrator, err = workflow.New(&workflow.Config{
		MaxFileSize:           a.cfg.Upload.MaxFileSize,
		AllowedExtensions:     a.cfg.Upload.AllowedExtensions,
		Retry:                 a.cfg.Retry,
		UnavailableRetryAfter: a.cfg.Breaker.RecoveryTimeout,
		FinalizeTimeout:       a.cfg.Upload.FinalizeTimeout,
	}, workflow.Dependencies{
		Blobs:     blobs,
		Store:     items,
		Extractor: extractor,
		Breaker:   cb,
	}, workflow.WithLogger(a.logger), workflow.WithMeter(a.meter), workflow.WithPublisher(publisher))
	if err != nil {
		return err
	}

	limiter, err := a.openLimiter(ctx)
	if err != nil {
		return err
	}

	a.handler, err = api.New(&api.Config{
		ServiceName:   ServiceName,
		Version:       Version,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		MaxUploadSize: a.cfg.Upload.MaxFileSize,
	}, api.Dependencies{
		Notes:   a.orchestrator,
		Blobs:   blobs,
		Limiter: limiter,
	}, api.WithLogger(a.logger), api.WithMeter(a.meter))
	if err != nil {
		return err
	}

	if a.cfg.Reconcile.Enabled {
		a.sweeper, err = a.newSweeper(items)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) (events.Publisher, error) {
	if a.publisher != nil {
		return a.publisher, nil
	}
	if !a.cfg.Events.Enabled {
		a.publisher = events.Noop()
		return a.publisher, nil
	}

	conn, err := connector.NewNATS(&a.cfg.Events.NATS, connector.WithLogger(a.logger), connector.WithMeter(a.meter))
	if err != nil {
		return nil, err
	}
	if err := a.connect(ctx, "nats", conn); err != nil {
		return nil, err
	}
	publisher, err := events.NewNATS(conn, &a.cfg.Events.Config, events.WithLogger(a.logger), events.WithMeter(a.meter))
	if err != nil {
		return nil, err
	}
	a.publisher = publisher
	return publisher, nil
}

func (a *App) openLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if !a.cfg.RateLimit.Enabled {
		return nil, nil
	}

	opts := []ratelimit.Option{ratelimit.WithLogger(a.logger), ratelimit.WithMeter(a.meter)}
	if a.cfg.RateLimit.Driver == ratelimit.DriverRedis {
		conn, err := connector.NewRedis(&a.cfg.Redis, connector.WithLogger(a.logger), connector.WithMeter(a.meter))
		if err != nil {
			return nil, err
		}
		if err := a.connect(ctx, "redis", conn); err != nil {
			return nil, err
		}
		opts = append(opts, ratelimit.WithRedisConnector(conn))
	}

	limiter, err := ratelimit.New(&a.cfg.RateLimit.Config, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create rate limiter")
	}
	a.life.register("ratelimit", PhaseComponent, func(context.Context) error { return limiter.Close() })
	return limiter, nil
}

func (a *App) newSweeper(items store.Store) (*reconcile.Sweeper, error) {
	publisher := a.publisher
	if publisher == nil {
		publisher = events.Noop()
	}
	return reconcile.New(items, &a.cfg.Reconcile.Config,
		reconcile.WithLogger(a.logger), reconcile.WithMeter(a.meter), reconcile.WithPublisher(publisher))
}

// Reconcile 执行一轮中断记录回收，供命令行单独调用
func (a *App) Reconcile(ctx context.Context) (int, error) {
	items, err := a.OpenStore(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := a.openPublisher(ctx); err != nil {
		return 0, err
	}
	sweeper, err := a.newSweeper(items)
	if err != nil {
		return 0, err
	}
	return sweeper.RunOnce(ctx)
}

// Serve 启动 HTTP 服务和后台回收，ctx 取消后优雅退出
func (a *App) Serve(ctx context.Context) error {
	if a.handler == nil {
		return ErrNotBuilt
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sweeper.Run(ctx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", clog.String("addr", srv.Addr), clog.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer stop()
	a.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed", clog.Error(err))
		serveErr = xerrors.Combine(serveErr, err)
	}
	wg.Wait()

	if serveErr != nil {
		return xerrors.Wrap(serveErr, "app: serve")
	}
	return nil
}

// WatchLogLevel 监听配置文件中的 log.level，变化时调整日志级别
func (a *App) WatchLogLevel(ctx context.Context, loader config.Loader) error {
	ch, err := loader.Watch(ctx, "log.level")
	if err != nil {
		return err
	}
	go func() {
		for ev := range ch {
			level, err := clog.ParseLevel(fmt.Sprint(ev.Value))
			if err != nil {
				a.logger.Warn("ignoring invalid log level", clog.Any("value", ev.Value), clog.Error(err))
				continue
			}
			if err := a.logger.SetLevel(level); err != nil {
				a.logger.Warn("set log level failed", clog.Error(err))
				continue
			}
			a.logger.Info("log level changed", clog.String("level", level.String()))
		}
	}()
	return nil
}

// Close 按逆序释放所有资源
func (a *App) Close(ctx context.Context) error {
	return a.life.closeAll(ctx)
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/admin"
	"github.com/wudi/gateway/internal/cache"
	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/dbfacade"
	"github.com/wudi/gateway/internal/eventlog"
	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/metrics"
	"github.com/wudi/gateway/internal/middleware"
	"github.com/wudi/gateway/internal/middleware/auth"
	"github.com/wudi/gateway/internal/middleware/ratelimit"
	"github.com/wudi/gateway/internal/middleware/validation"
	"github.com/wudi/gateway/internal/plugin"
	"github.com/wudi/gateway/internal/proxy"
	"github.com/wudi/gateway/internal/rules"
	"github.com/wudi/gateway/internal/sharedctx"
	gormlogger "gorm.io/gorm/logger"
)

// Server owns the process lifecycle around a Gateway: the HTTP listener,
// the admin TCP listener, and every shared subsystem that outlives a
// config reload.
type Server struct {
	gw *Gateway

	cfgPath string
	loader  *config.Loader

	httpServer  *http.Server
	adminServer *admin.Server

	redisClient *redis.Client
	lockClient  *redis.Client

	eventLog    *eventlog.Queue
	pluginMgr   *plugin.Manager
	transport   *proxy.TransportPool
	requestLog  *RequestLog
	logCloser   io.Closer
}

// NewServer loads cfgPath, constructs every shared subsystem, registers
// the initial route set, and wires the admin control plane. The gateway
// doesn't start listening until Start or Run is called.
func NewServer(cfgPath, version string) (*Server, error) {
	loader := config.NewLoader()
	cs, err := loader.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := cs.Config

	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logging.SetGlobal(logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	// Locks use their own client per internal/admin/locks.go's doc
	// comment: dedicated, non-pubsub connection so a slow lock scan
	// never blocks a subscriber elsewhere.
	lockClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	gormLevel := gormlogger.Warn
	if cfg.Logging.Level == "debug" {
		gormLevel = gormlogger.Info
	}
	facade := dbfacade.NewWithLogLevel(gormLevel)
	jwt, err := auth.NewJWTAuth(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}

	cacheByRoute := cache.NewCacheByRoute(redisClient)
	rateLimitByRoute := ratelimit.NewRateLimitByRoute(redisClient)
	validators := validation.NewValidatorByRoute()
	engines := rules.NewEnginesByRoute()
	actions := sharedctx.NewActionRegistry()
	resources := sharedctx.NewResourceRegistry()
	transportPool := proxy.NewTransportPool()
	collector := metrics.NewCollector()
	px := proxy.New(proxy.Config{TransportPool: transportPool, Metrics: collector})
	requestLog := NewRequestLog(2000)

	// gw is captured by the mutator's table resolver before it exists;
	// RegisterRoutes/ConfigSet are only called on it after New returns,
	// so the closure is safe to build now.
	var gw *Gateway
	resolver := func(table string) (*config.EndpointDescriptor, bool) {
		if gw == nil {
			return nil, false
		}
		return gw.ConfigSet().LookupTable(table)
	}
	mutator := dbfacade.NewMutatorAdapter(facade, resolver)
	eventLog := eventlog.New(redisClient, cfg.EventLog.QueueKey, cfg.EventLog.BatchSize, cfg.EventLog.MaxQueueLen, mutator, eventlog.WithActions(actions))

	gw = New(Deps{
		Facade:           facade,
		JWT:              jwt,
		CacheByRoute:     cacheByRoute,
		RateLimitByRoute: rateLimitByRoute,
		Validators:       validators,
		Engines:          engines,
		EventLog:         eventLog,
		Actions:          actions,
		Resources:        resources,
		Proxy:            px,
		RulesDir:         cfg.Rules.Dir,
		Logger:           logger,
		Metrics:          collector,
	})

	pluginMgr := plugin.NewManager(cfg.Plugins.Dir, plugin.OpenFile, gw.Router, sharedctx.Deps{
		Actions:   actions,
		Resources: resources,
		App:       routeLookuperAdapter{rt: gw.Router},
		DB:        facade,
		Logger:    logger,
		Process: sharedctx.ProcessInfo{
			PID:       os.Getpid(),
			StartedAt: time.Now(),
		},
	})
	gw.plugins = pluginMgr

	if err := gw.RegisterRoutes(cs); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	s := &Server{
		gw:          gw,
		cfgPath:     cfgPath,
		loader:      loader,
		redisClient: redisClient,
		lockClient:  lockClient,
		eventLog:    eventLog,
		pluginMgr:   pluginMgr,
		transport:   transportPool,
		requestLog:  requestLog,
		logCloser:   closer,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	if cfg.Admin.Enabled {
		adminSrv := admin.New(version)
		adminSrv.Config = s
		adminSrv.Rules = gw
		adminSrv.Routes = gw
		adminSrv.Plugins = pluginMgr
		adminSrv.Actions = actions
		adminSrv.RequestLog = requestLog
		adminSrv.Locks = admin.NewRedisLockManager(lockClient)
		adminSrv.Tokens = jwt
		adminSrv.Proc = shutdowner{s}
		s.adminServer = adminSrv
	}

	return s, nil
}

// handler assembles the process-wide middleware stack: request ID,
// panic recovery, the request-log recorder, metrics, then structured
// logging, wrapping the router that dispatches into each route's own
// chain. /metrics is served ahead of the router so scraping it never
// goes through per-route auth/ACL/validation.
func (s *Server) handler() http.Handler {
	builder := middleware.NewBuilder().
		Use(middleware.RequestID()).
		Use(middleware.Recovery()).
		Use(s.requestLog.Middleware()).
		Use(middleware.Metrics(s.gw.Metrics())).
		Use(middleware.Logging())

	metricsHandler := s.gw.Metrics().Handler()
	routed := builder.Handler(s.gw.Router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			metricsHandler.ServeHTTP(w, r)
			return
		}
		routed.ServeHTTP(w, r)
	})
}

// Start begins serving the HTTP and (if enabled) admin listeners and
// starts the event-log queue's background flush loop. The admin listener
// is bound before Start returns; the HTTP listener is bound inside its
// serving goroutine, so its bind error, like any later serve error, is
// reported on errCh (which Run/Shutdown drain).
func (s *Server) Start() (<-chan error, error) {
	errCh := make(chan error, 2)

	cs := s.gw.ConfigSet()
	flushInterval := time.Duration(cs.Config.EventLog.FlushInterval) * time.Millisecond
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	s.eventLog.Start(context.Background(), flushInterval)

	if cs.Config.Admin.Enabled {
		ln, err := net.Listen("tcp", cs.Config.Admin.Address)
		if err != nil {
			return nil, fmt.Errorf("listen admin: %w", err)
		}
		go func() {
			if err := s.adminServer.Serve(ln); err != nil {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	return errCh, nil
}

// Run starts the server and blocks until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Run() error {
	errCh, err := s.Start()
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
		logging.Info("shutdown signal received")
	}

	timeout := time.Duration(s.gw.ConfigSet().Config.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return s.Shutdown(timeout)
}

// Shutdown drains and stops every subsystem: HTTP and admin listeners
// first (no new work accepted), then the event-log queue (so queued
// writes aren't lost), then storage and transport connections.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Warn("http server shutdown error", zap.Error(err))
	}
	if s.adminServer != nil {
		if err := s.adminServer.Close(); err != nil {
			logging.Warn("admin server shutdown error", zap.Error(err))
		}
	}
	if err := s.eventLog.Shutdown(ctx); err != nil {
		logging.Warn("event log shutdown error", zap.Error(err))
	}
	if err := s.pluginMgr.UnloadAll(); err != nil {
		logging.Warn("plugin unload error", zap.Error(err))
	}

	s.transport.CloseIdleConnections()

	if err := s.gw.facade.Close(); err != nil {
		logging.Warn("db facade close error", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		logging.Warn("redis client close error", zap.Error(err))
	}
	if err := s.lockClient.Close(); err != nil {
		logging.Warn("lock client close error", zap.Error(err))
	}
	if s.logCloser != nil {
		s.logCloser.Close()
	}

	logging.Info("shutdown complete")
	return nil
}

// shutdowner adapts Server to admin.Shutdowner. It's a distinct type
// because Server.Shutdown already has a (timeout, error) signature for
// the process's own graceful-shutdown path; the admin command needs the
// no-arg, fire-and-forget signature the control protocol expects instead.
type shutdowner struct{ s *Server }

func (d shutdowner) Shutdown() {
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = d.s.Shutdown(15 * time.Second)
		os.Exit(0)
	}()
}

// ShowConfig implements admin.ConfigManager.
func (s *Server) ShowConfig() (string, error) {
	cs := s.gw.ConfigSet()
	data, err := json.Marshal(cs.Config)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Validate implements admin.ConfigManager: reloads and validates the
// config file on disk without installing it.
func (s *Server) Validate() error {
	_, err := s.loader.Load(s.cfgPath)
	return err
}

// Reload implements admin.ConfigManager. It loads and validates the
// config file fully before touching the router, so a bad file leaves
// the previously-active config serving traffic; the router is cleared
// and re-registered only once the new ConfigSet is known-good, though
// the clear-then-register step itself is not atomic against concurrent
// requests (an accepted simplification — see DESIGN.md).
func (s *Server) Reload() error {
	cs, err := s.loader.Load(s.cfgPath)
	if err != nil {
		return err
	}

	s.gw.rateLimitByRoute = ratelimit.NewRateLimitByRoute(s.redisClient)
	s.gw.validatorsByRoute = validation.NewValidatorByRoute()
	s.gw.engines = rules.NewEnginesByRoute()
	s.gw.cacheByRoute = cache.NewCacheByRoute(s.redisClient)

	s.gw.Router.Clear()
	if err := s.gw.RegisterRoutes(cs); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	logging.Info("config reloaded", zap.String("path", s.cfgPath), zap.Int("endpoints", len(cs.Endpoints)))
	return nil
}

// Package gateway wires together the router, database facade, auth,
// cache, rate limit, validation, rule engine, event logger and plugin
// manager into the request pipeline described by a loaded config set, and
// owns the process lifecycle (listeners, graceful shutdown) around them.
package gateway

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/admin"
	"github.com/wudi/gateway/internal/byroute"
	"github.com/wudi/gateway/internal/cache"
	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/dbfacade"
	"github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/eventlog"
	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/metrics"
	"github.com/wudi/gateway/internal/middleware"
	"github.com/wudi/gateway/internal/middleware/auth"
	"github.com/wudi/gateway/internal/middleware/ratelimit"
	"github.com/wudi/gateway/internal/middleware/validation"
	"github.com/wudi/gateway/internal/plugin"
	"github.com/wudi/gateway/internal/proxy"
	"github.com/wudi/gateway/internal/router"
	"github.com/wudi/gateway/internal/rules"
	"github.com/wudi/gateway/internal/sharedctx"
)

// Gateway composes every request-path subsystem and dispatches each
// descriptor of a loaded ConfigSet to the handler construction logic for
// its routeType.
type Gateway struct {
	mu sync.RWMutex
	cs *config.ConfigSet

	Router *router.Router

	facade *dbfacade.Facade
	jwt    *auth.JWTAuth

	cacheByRoute      *cache.CacheByRoute
	rateLimitByRoute  *ratelimit.RateLimitByRoute
	validatorsByRoute *validation.ValidatorByRoute
	engines           *rules.EnginesByRoute
	credByTable       *byroute.Manager[*dbfacade.CredentialLookup]

	eventlog *eventlog.Queue
	plugins  *plugin.Manager
	actions  *sharedctx.ActionRegistry
	resources *sharedctx.ResourceRegistry

	proxy *proxy.Proxy

	rulesDir string

	logger  *zap.Logger
	metrics *metrics.Collector
}

// Deps are the already-constructed shared subsystems a Gateway composes.
// The process entry point builds each of these once (so they survive a
// config reload) and passes them in here.
type Deps struct {
	Facade           *dbfacade.Facade
	JWT              *auth.JWTAuth
	CacheByRoute     *cache.CacheByRoute
	RateLimitByRoute *ratelimit.RateLimitByRoute
	Validators       *validation.ValidatorByRoute
	Engines          *rules.EnginesByRoute
	EventLog         *eventlog.Queue
	Plugins          *plugin.Manager
	Actions          *sharedctx.ActionRegistry
	Resources        *sharedctx.ResourceRegistry
	Proxy            *proxy.Proxy
	RulesDir         string
	Logger           *zap.Logger
	Metrics          *metrics.Collector
}

// New creates an empty Gateway over its shared dependencies. Call
// RegisterRoutes to populate the router from a loaded ConfigSet.
func New(deps Deps) *Gateway {
	if deps.Logger == nil {
		deps.Logger = logging.Global()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	rt := router.New()
	g := &Gateway{
		Router:            rt,
		facade:            deps.Facade,
		jwt:               deps.JWT,
		cacheByRoute:       deps.CacheByRoute,
		rateLimitByRoute:   deps.RateLimitByRoute,
		validatorsByRoute:  deps.Validators,
		engines:            deps.Engines,
		credByTable:        byroute.New[*dbfacade.CredentialLookup](),
		eventlog:           deps.EventLog,
		plugins:            deps.Plugins,
		actions:            deps.Actions,
		resources:          deps.Resources,
		proxy:              deps.Proxy,
		rulesDir:           deps.RulesDir,
		logger:             deps.Logger,
		metrics:            deps.Metrics,
	}
	return g
}

// Metrics returns the Collector this Gateway records request, cache and
// rule-engine activity against.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.metrics
}

// ConfigSet returns the ConfigSet currently backing the router.
func (g *Gateway) ConfigSet() *config.ConfigSet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cs
}

// RouteLookuper adapts Router.Lookup to sharedctx.RouteLookuper, whose
// return type is `any` rather than the router's concrete descriptor type
// so plugins don't need to import internal/router.
type routeLookuperAdapter struct{ rt *router.Router }

func (a routeLookuperAdapter) Lookup(method, path string) (any, map[string]string, bool) {
	d, params, ok := a.rt.Lookup(method, path)
	return d, params, ok
}

// RegisterRoutes builds and installs the full set of route handlers for
// cs, without disturbing any plugin-registered routes that already live
// in the router (plugins are managed by Manager, not by descriptor
// registration). It does not clear the router first — callers doing a
// full config reload call Router.Clear() themselves once the new
// ConfigSet has been built successfully, per the "previously-active
// config stays live until a reload step succeeds" rule.
func (g *Gateway) RegisterRoutes(cs *config.ConfigSet) error {
	var pluginNames []string
	seenPlugins := map[string]bool{}

	for i := range cs.Endpoints {
		d := &cs.Endpoints[i]
		switch d.RouteType {
		case config.RouteDef:
			continue
		case config.RoutePlugin:
			if !seenPlugins[d.BusinessLogic] {
				seenPlugins[d.BusinessLogic] = true
				pluginNames = append(pluginNames, d.BusinessLogic)
			}
			continue
		}

		if err := g.registerEngine(d); err != nil {
			return err
		}
		g.registerRateLimitAndValidation(d)
		g.registerCache(d)

		if err := g.registerDescriptor(cs, d); err != nil {
			return fmt.Errorf("route %s: %w", d.Route, err)
		}
	}

	g.mu.Lock()
	g.cs = cs
	g.mu.Unlock()

	for _, name := range pluginNames {
		if g.plugins == nil {
			continue
		}
		if err := g.plugins.Load(name); err != nil {
			logging.Warn("plugin load failed during route registration", zap.String("plugin", name), zap.Error(err))
		}
	}
	return nil
}

func (g *Gateway) registerEngine(d *config.EndpointDescriptor) error {
	if d.BusinessRules == "" || g.engines == nil {
		return nil
	}
	path := d.BusinessRules
	if !filepath.IsAbs(path) && g.rulesDir != "" {
		path = filepath.Join(g.rulesDir, path)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read business rules %s: %w", path, err)
	}
	return g.engines.Load(d.Route, string(source))
}

func (g *Gateway) registerRateLimitAndValidation(d *config.EndpointDescriptor) {
	if g.rateLimitByRoute != nil {
		g.rateLimitByRoute.AddRoute(d.Route, d.RateLimit)
	}
	if g.validatorsByRoute != nil {
		if err := g.validatorsByRoute.AddRoute(d.Route, d.ValidationRules); err != nil {
			logging.Warn("validation rules failed to compile", zap.String("route", d.Route), zap.Error(err))
		}
	}
}

func (g *Gateway) registerCache(d *config.EndpointDescriptor) {
	if g.cacheByRoute == nil || d.RouteType != config.RouteDatabase {
		return
	}
	g.cacheByRoute.AddRoute(d.Route, d.Cache)
}

// registerDescriptor synthesizes and installs the handler(s) for one
// non-def, non-plugin descriptor across every method it allows.
func (g *Gateway) registerDescriptor(cs *config.ConfigSet, d *config.EndpointDescriptor) error {
	if d.Auth == config.AuthBasic {
		return g.registerBodyAuthRoute(d)
	}

	methods := d.AllowMethods
	if len(methods) == 0 {
		methods = []string{"GET"}
	}

	var core http.Handler
	var err error
	switch d.RouteType {
	case config.RouteDatabase:
		core = g.databaseHandler(cs, d)
	case config.RouteProxy:
		core, err = g.proxy.Handler(d.Route, d.UpstreamURL)
	case config.RouteStatic:
		core = g.staticHandler(d)
	case config.RouteFileUpload:
		core = g.fileUploadHandler(d)
	case config.RouteDynamic:
		core = g.dynamicHandler(d)
	default:
		return fmt.Errorf("unsupported routeType %q", d.RouteType)
	}
	if err != nil {
		return err
	}

	chain := g.buildChain(d)
	handler := chain.Then(core)

	for _, m := range methods {
		g.Router.Handle(strings.ToUpper(m), d.Route, d, handler)
	}
	return nil
}

// registerBodyAuthRoute installs the body-auth login handler, which
// always answers with a token response rather than reaching the
// descriptor's ordinary business handler.
func (g *Gateway) registerBodyAuthRoute(d *config.EndpointDescriptor) error {
	if g.jwt == nil {
		return errors.ConfigErr("route " + d.Route + " uses auth=basic but no JWT signer is configured")
	}
	lookup := g.credentialLookup(d)
	bodyAuth := auth.NewBodyAuth(lookup, g.jwt, passwordFuncFor(d))
	chain := g.buildChain(d)
	handler := chain.Then(bodyAuth.ServeHTTP(d.DBTable))

	methods := d.AllowMethods
	if len(methods) == 0 {
		methods = []string{"POST"}
	}
	for _, m := range methods {
		g.Router.Handle(strings.ToUpper(m), d.Route, d, handler)
	}
	return nil
}

func (g *Gateway) credentialLookup(d *config.EndpointDescriptor) *dbfacade.CredentialLookup {
	if lookup, ok := g.credByTable.Get(d.DBTable); ok {
		return lookup
	}
	lookup := dbfacade.NewCredentialLookup(g.facade, d)
	g.credByTable.Add(d.DBTable, lookup)
	return lookup
}

// passwordFuncFor reads the password hashing scheme a route's backing
// table was written with out of its column definitions, defaulting to
// bcrypt when unspecified.
func passwordFuncFor(d *config.EndpointDescriptor) auth.PasswordFunc {
	if scheme, ok := d.ColumnDefinitions["authentication"]; ok && scheme == "sha256" {
		return auth.PasswordSHA256
	}
	return auth.PasswordBcrypt
}

// buildChain assembles the per-route middleware stack in the fixed
// order: rate limit, auth, ACL, then validation. Request-id/recovery/
// request-logging are installed once around the whole router, not
// per-route; rule evaluation happens inside the routeType handler
// itself rather than as a middleware, since only the handler knows
// which scope (inbound body vs. outbound row) to evaluate against.
func (g *Gateway) buildChain(d *config.EndpointDescriptor) *middleware.Chain {
	builder := middleware.NewBuilder()

	if g.rateLimitByRoute != nil {
		if m := g.rateLimitByRoute.Middleware(d.Route); m != nil {
			builder.Use(m)
		}
	}

	switch d.Auth {
	case config.AuthToken:
		if g.jwt != nil {
			builder.Use(g.jwt.Middleware())
		}
	case config.AuthUsernamePassword:
		if g.jwt != nil {
			lookup := g.credentialLookup(d)
			headerAuth := auth.NewHeaderAuth(lookup, d.DBTable, passwordFuncFor(d))
			builder.Use(headerAuth.Middleware())
		}
	}

	builder.UseIf(len(d.ACL) > 0, middleware.ACL(d.ACL))

	if g.validatorsByRoute != nil {
		if m := g.validatorsByRoute.Middleware(d.Route); m != nil {
			builder.Use(m)
		}
	}

	return builder.Build()
}

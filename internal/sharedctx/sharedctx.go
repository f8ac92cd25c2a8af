// Package sharedctx carries the request-scoped scratch space the rule
// engine and route handlers read/write, and the process-wide dependency
// registries (actions, resources) that plugins populate at load time.
//
// The request-scoped half follows the teacher's pattern of a single typed
// context key guarding a struct reached via context.WithValue; the
// process-wide half follows the teacher's sync.RWMutex-guarded map idiom
// used throughout internal/registry/memory, generalized with Go generics.
package sharedctx

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type requestContextKey struct{}

// Identity describes the authenticated principal for the current request,
// populated by the auth middleware.
type Identity struct {
	Subject string
	ACL     []string
}

// HasRole reports whether the identity carries the given ACL role tag.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	for _, r := range id.ACL {
		if r == role {
			return true
		}
	}
	return false
}

// RequestContext is the per-request scratch space threaded through the
// middleware chain: request-id, identity, the rule engine's free-form
// "data" map, and the response envelope the handler/rule stages populate.
type RequestContext struct {
	mu sync.Mutex

	RequestID string
	Route     string
	Identity  *Identity

	data     map[string]any
	response map[string]any

	// Terminated and StatusCode are set by Terminate. The gateway's own
	// middleware chain and handlers do not read them.
	Terminated bool
	StatusCode int
}

// NewRequestContext creates an empty RequestContext for a request ID.
func NewRequestContext(requestID, route string) *RequestContext {
	return &RequestContext{
		RequestID: requestID,
		Route:     route,
		data:      make(map[string]any),
		response:  make(map[string]any),
	}
}

// Set stores a scratch value under name, visible to later rule stages and
// to downstream plugin handlers.
func (rc *RequestContext) Set(name string, value any) {
	rc.mu.Lock()
	rc.data[name] = value
	rc.mu.Unlock()
}

// Get retrieves a scratch value by name.
func (rc *RequestContext) Get(name string) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.data[name]
	return v, ok
}

// SetResponseField stages a value into the response envelope that
// ResponseEnvelope returns. The gateway's handlers do not serialize this
// envelope.
func (rc *RequestContext) SetResponseField(name string, value any) {
	rc.mu.Lock()
	rc.response[name] = value
	rc.mu.Unlock()
}

// ResponseEnvelope returns a copy of the staged response fields.
func (rc *RequestContext) ResponseEnvelope() map[string]any {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]any, len(rc.response))
	for k, v := range rc.response {
		out[k] = v
	}
	return out
}

// Terminate marks the chain as terminated with the given status code. The
// rule engine does not call it; its short-circuits return a status instead.
func (rc *RequestContext) Terminate(status int) {
	rc.mu.Lock()
	rc.Terminated = true
	rc.StatusCode = status
	rc.mu.Unlock()
}

// WithRequestContext returns a new context carrying rc, and a new request
// with that context attached — mirroring the teacher's pattern of
// threading a typed value through context.WithValue on *http.Request.
func WithRequestContext(r *http.Request, rc *RequestContext) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestContextKey{}, rc))
}

// FromContext retrieves the RequestContext stashed on ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}

// ActionFunc is a dynamic action a plugin registers, invoked by name by a
// route's businessLogic handler and by the event-log flusher.
type ActionFunc func(ctx context.Context, params map[string]any) (any, error)

// ActionRegistry is the process-wide, mutex-guarded table of dynamic
// actions. Registration conflicts are rejected rather than silently
// overwriting an existing entry, so two plugins can never shadow each
// other without an operator noticing at load time.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
	owner   map[string]string // action name -> owning plugin, for Unregister
}

// NewActionRegistry creates an empty ActionRegistry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]ActionFunc),
		owner:   make(map[string]string),
	}
}

// Register adds an action under name, owned by the given plugin. Returns
// an error if name is already registered by a different plugin.
func (r *ActionRegistry) Register(plugin, name string, fn ActionFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.owner[name]; ok && existing != plugin {
		return fmt.Errorf("sharedctx: action %q already registered by plugin %q", name, existing)
	}
	r.actions[name] = fn
	r.owner[name] = plugin
	return nil
}

// Unregister removes every action owned by the given plugin, used on
// plugin unload.
func (r *ActionRegistry) Unregister(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, owner := range r.owner {
		if owner == plugin {
			delete(r.actions, name)
			delete(r.owner, name)
		}
	}
}

// Lookup returns the action registered under name.
func (r *ActionRegistry) Lookup(name string) (ActionFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.actions[name]
	return fn, ok
}

// Names returns the currently registered action names.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	return names
}

// ResourceRegistry is a process-wide table of arbitrary shared resources
// (DB facades, cache clients, config) that plugins receive at Initialize
// time instead of importing gateway internals directly.
type ResourceRegistry struct {
	mu        sync.RWMutex
	resources map[string]any
}

// NewResourceRegistry creates an empty ResourceRegistry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{resources: make(map[string]any)}
}

// Put stores a resource under name.
func (r *ResourceRegistry) Put(name string, value any) {
	r.mu.Lock()
	r.resources[name] = value
	r.mu.Unlock()
}

// Get retrieves a resource by name.
func (r *ResourceRegistry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.resources[name]
	return v, ok
}

// RouteLookuper lets a plugin introspect already-registered routes
// without importing the router package directly.
type RouteLookuper interface {
	Lookup(method, path string) (descriptor any, params map[string]string, ok bool)
}

// ProcessInfo answers a plugin's "process" dep with just enough to report
// uptime and identity, without exposing the real os.Process.
type ProcessInfo struct {
	PID       int
	Hostname  string
	StartedAt time.Time
}

// Deps is what a plugin's Initialize receives: the shared registries plus
// the app router, DB facade, logger and process info, so route handlers
// it registers can resolve actions/resources and reach storage without a
// back-reference to the gateway process. DB is typed any (rather than
// importing internal/dbfacade) to keep this package free of a dependency
// on a concrete storage implementation; plugins type-assert it the same
// way they'd type-assert a Resources entry.
type Deps struct {
	Actions   *ActionRegistry
	Resources *ResourceRegistry
	App       RouteLookuper
	DB        any
	Logger    *zap.Logger
	Process   ProcessInfo
}

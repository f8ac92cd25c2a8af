// Package router resolves an incoming HTTP request to the endpoint
// descriptor and handler chain registered for it.
package router

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"

	"github.com/wudi/gateway/internal/config"
)

type routeKey struct {
	method string
	path   string
}

// Entry binds a compiled handler to the descriptor it was synthesized from,
// so middleware further down the chain (cache, rate limit, rule engine) can
// recover per-route configuration from the match.
type Entry struct {
	Descriptor *config.EndpointDescriptor
	Handler    http.Handler
}

// Router is a thread-safe, reloadable wrapper around httprouter's radix
// tree. Mutations rebuild the tree under lock rather than mutating it in
// place, since httprouter has no route-removal API; this keeps config
// reload and plugin unload (which must drop a specific set of routes while
// leaving the rest untouched) simple and correct at the cost of an O(n)
// rebuild, acceptable for an admin-triggered operation rather than a
// per-request one.
type Router struct {
	mu       sync.RWMutex
	entries  map[routeKey]Entry
	tree     *httprouter.Router
	notFound http.Handler
}

// New returns an empty Router.
func New() *Router {
	rt := &Router{entries: make(map[routeKey]Entry)}
	rt.rebuildLocked()
	return rt
}

// Handle registers h for method and path, replacing any existing
// registration for the same (method, path) pair. path uses the
// descriptor's {name} placeholder syntax, converted to httprouter's :name.
func (rt *Router) Handle(method, path string, descriptor *config.EndpointDescriptor, h http.Handler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.entries[routeKey{method: method, path: replaceParams(path)}] = Entry{Descriptor: descriptor, Handler: h}
	rt.rebuildLocked()
}

// Remove drops the (method, path) registration, if any.
func (rt *Router) Remove(method, path string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.entries, routeKey{method: method, path: replaceParams(path)})
	rt.rebuildLocked()
}

// Clear drops every registration, used before a full config reload
// re-synthesizes routes from scratch.
func (rt *Router) Clear() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.entries = make(map[routeKey]Entry)
	rt.rebuildLocked()
}

// SetNotFound installs the handler served when no route matches.
func (rt *Router) SetNotFound(h http.Handler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.notFound = h
	rt.rebuildLocked()
}

func (rt *Router) rebuildLocked() {
	tree := httprouter.New()
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false
	tree.HandleMethodNotAllowed = false
	if rt.notFound != nil {
		tree.NotFound = rt.notFound
	}
	for key, entry := range rt.entries {
		tree.Handler(key.method, key.path, entry.Handler)
	}
	rt.tree = tree
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mu.RLock()
	tree := rt.tree
	rt.mu.RUnlock()
	tree.ServeHTTP(w, r)
}

// Lookup reports the descriptor registered for method+path, matching the
// path against each registered template without running the handler. Used
// by admin/introspection callers that need the mapping without issuing a
// real request; handlers serving real traffic instead reach their own
// descriptor via EntryFromContext.
func (rt *Router) Lookup(method, path string) (*config.EndpointDescriptor, map[string]string, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for key, entry := range rt.entries {
		if key.method != method {
			continue
		}
		if params, ok := matchTemplate(key.path, path); ok {
			return entry.Descriptor, params, true
		}
	}
	return nil, nil, false
}

func matchTemplate(template, path string) (map[string]string, bool) {
	tSegs := strings.Split(strings.Trim(template, "/"), "/")
	pSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(tSegs) != len(pSegs) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range tSegs {
		switch {
		case strings.HasPrefix(seg, ":"):
			params[seg[1:]] = pSegs[i]
		case strings.HasPrefix(seg, "*"):
			params[seg[1:]] = strings.Join(pSegs[i:], "/")
		case seg != pSegs[i]:
			return nil, false
		}
	}
	return params, true
}

type entryContextKey struct{}

// WithEntry attaches the matched Entry to the request context so handlers
// and downstream middleware can recover the synthesizing descriptor.
func WithEntry(r *http.Request, entry Entry) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), entryContextKey{}, entry))
}

// EntryFromContext recovers the Entry attached by WithEntry.
func EntryFromContext(ctx context.Context) (Entry, bool) {
	entry, ok := ctx.Value(entryContextKey{}).(Entry)
	return entry, ok
}

// PathParams returns the named path parameters httprouter extracted for
// the current request (e.g. {id} in /api/products/{id}).
func PathParams(r *http.Request) map[string]string {
	params := httprouter.ParamsFromContext(r.Context())
	out := make(map[string]string, len(params))
	for _, p := range params {
		out[p.Key] = p.Value
	}
	return out
}

// replaceParams converts the descriptor's {name} placeholder syntax to
// httprouter's :name convention, and a trailing {*rest} to httprouter's
// *rest catch-all.
func replaceParams(path string) string {
	var b strings.Builder
	i := 0
	for i < len(path) {
		if path[i] == '{' {
			end := strings.IndexByte(path[i:], '}')
			if end == -1 {
				b.WriteByte(path[i])
				i++
				continue
			}
			name := path[i+1 : i+end]
			if strings.HasPrefix(name, "*") {
				b.WriteString("*" + name[1:])
			} else {
				b.WriteString(":" + name)
			}
			i += end + 1
			continue
		}
		b.WriteByte(path[i])
		i++
	}
	return b.String()
}

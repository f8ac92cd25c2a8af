// Package plugin loads and supervises gateway plugins built as Go
// .so artifacts, the direct Go analog of the original runtime's
// require()-based hot load: route registration happens in the same
// process (app router, action registry, DB facade) rather than across
// an RPC boundary, so plugins reach the gateway's live state directly
// through the Deps they're initialized with.
package plugin

import (
	"fmt"
	"net/http"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/sharedctx"
)

// RouteSpec is one route a plugin wants the gateway to serve, returned
// from RegisterRoutes for the Manager to wire into the router and track
// for later removal on unload.
type RouteSpec struct {
	Method     string
	Path       string
	Descriptor *config.EndpointDescriptor
	Handler    http.Handler
}

// Plugin is the ABI every .so plugin must export a value satisfying,
// looked up from the symbol name "GatewayPlugin".
type Plugin interface {
	Name() string
	Version() string

	// Initialize runs once at load time, before RegisterRoutes. Plugins
	// extend the shared action registry here by calling
	// deps.Actions.Register(pluginName, actionName, fn).
	Initialize(deps sharedctx.Deps) error

	// RegisterRoutes returns the routes this plugin wants to serve. app
	// lets the plugin inspect already-registered routes (e.g. to avoid a
	// path collision) before deciding what to return.
	RegisterRoutes(app sharedctx.RouteLookuper) ([]RouteSpec, error)

	// Cleanup runs on unload, after every route this plugin registered
	// has been removed from the router.
	Cleanup() error
}

// RouteRegistrar is the subset of the router the Manager needs to wire
// and later tear down a plugin's routes.
type RouteRegistrar interface {
	Handle(method, path string, descriptor *config.EndpointDescriptor, h http.Handler)
	Remove(method, path string)
}

// Opener loads a Plugin implementation from a .so path. The production
// default is OpenFile (stdlib plugin.Open + Lookup); tests substitute a
// fake.
type Opener func(path string) (Plugin, error)

type routeKey struct{ method, path string }

type loadedPlugin struct {
	impl   Plugin
	path   string
	routes []routeKey
}

func (e *loadedPlugin) describe() string {
	return fmt.Sprintf("%s@%s", e.impl.Name(), e.impl.Version())
}

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/wudi/gateway/internal/cache"
	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/dbfacade"
	"github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/rules"
	"github.com/wudi/gateway/internal/sharedctx"

	internalrouter "github.com/wudi/gateway/internal/router"
)

// reserved control params never reach the equality filter; they drive
// projection, sorting, and paging instead.
var reservedQueryParams = map[string]bool{
	"_fields": true,
	"_sort":   true,
	"_page":   true,
	"_limit":  true,
}

// readOptionsFromQuery turns a GET request's query string into
// dbfacade.ReadOptions: every non-reserved param that names an allowRead
// column becomes an equality filter, while _fields/_sort/_page/_limit
// drive projection, ordering, and paging.
func readOptionsFromQuery(d *config.EndpointDescriptor, r *http.Request) (dbfacade.ReadOptions, error) {
	allowed := make(map[string]bool, len(d.AllowRead))
	for _, c := range d.AllowRead {
		allowed[c] = true
	}

	opts := dbfacade.ReadOptions{Filter: map[string]interface{}{}}
	for key, values := range r.URL.Query() {
		if reservedQueryParams[key] || len(values) == 0 {
			continue
		}
		if !allowed[key] {
			return dbfacade.ReadOptions{}, errors.ValidationError("unknown filter field: " + key)
		}
		opts.Filter[key] = values[0]
	}
	if len(opts.Filter) == 0 {
		opts.Filter = nil
	}

	if v := r.URL.Query().Get("_fields"); v != "" {
		opts.Fields = strings.Split(v, ",")
	}
	if v := r.URL.Query().Get("_sort"); v != "" {
		opts.Sort = strings.Split(v, ",")
	}
	if v := r.URL.Query().Get("_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return dbfacade.ReadOptions{}, errors.ValidationError("_limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return dbfacade.ReadOptions{}, errors.ValidationError("_page must be a positive integer")
		}
		opts.Page = n
	}
	return opts, nil
}

// tableResolver adapts the gateway's live ConfigSet to
// dbfacade.TableResolver, re-reading the current set on every call so a
// config reload is picked up without rebuilding the mutator.
func (g *Gateway) tableResolver() dbfacade.TableResolver {
	return func(table string) (*config.EndpointDescriptor, bool) {
		cs := g.ConfigSet()
		if cs == nil {
			return nil, false
		}
		return cs.LookupTable(table)
	}
}

// databaseHandler returns the single handler registered for every method
// a routeType "database" descriptor allows; it dispatches internally on
// r.Method since all of a descriptor's methods share one Route.
func (g *Gateway) databaseHandler(cs *config.ConfigSet, d *config.EndpointDescriptor) http.Handler {
	mutator := dbfacade.NewMutatorAdapter(g.facade, g.tableResolver())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			g.handleRead(w, r, d, mutator)
		case http.MethodPost:
			g.handleCreate(w, r, d, mutator)
		case http.MethodPut, http.MethodPatch:
			g.handleUpdate(w, r, d, mutator)
		case http.MethodDelete:
			g.handleDelete(w, r, d, mutator)
		default:
			errors.New(http.StatusMethodNotAllowed, "method not allowed").WriteJSON(w)
		}
	})
}

func (g *Gateway) executor(r *http.Request, mutator *dbfacade.MutatorAdapter) *rules.Executor {
	return &rules.Executor{Ctx: r.Context(), Mutator: mutator, Sink: g.eventlog, Request: r}
}

func (g *Gateway) scopeFor(r *http.Request, body map[string]interface{}) rules.Scope {
	pathParams := internalrouter.PathParams(r)
	query := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	req := rules.ReqFields(r.Method, body, query, pathParams)

	var rc *sharedctx.RequestContext
	if v, ok := sharedctx.FromContext(r.Context()); ok {
		rc = v
	}
	ctxFields := rules.ContextFields(rc)

	return rules.NewInboundScope(req, ctxFields, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return map[string]interface{}{}, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		return nil, errors.ValidationError("failed to read request body")
	}
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.ValidationError("request body must be a JSON object")
	}
	return body, nil
}

// keyFilter builds an equality filter from cfg.Keys matched against the
// request's path parameters, the single mechanism by which a database
// route identifies its target row(s) — there is no separate item vs.
// collection path convention, just {key} placeholders on the one route.
func keyFilter(cfg *config.EndpointDescriptor, r *http.Request) (map[string]interface{}, bool) {
	params := internalrouter.PathParams(r)
	if len(cfg.Keys) == 0 {
		return nil, false
	}
	filter := make(map[string]interface{}, len(cfg.Keys))
	for _, key := range cfg.Keys {
		v, ok := params[key]
		if !ok {
			return nil, false
		}
		filter[key] = v
	}
	return filter, true
}

func writeGatewayErr(w http.ResponseWriter, err error) {
	if ge, ok := errors.IsGatewayError(err); ok {
		ge.WriteJSON(w)
		return
	}
	errors.InternalErr(err.Error()).WriteJSON(w)
}

func (g *Gateway) evaluateInbound(d *config.EndpointDescriptor, method string, scope rules.Scope, exec *rules.Executor) (int, bool) {
	engine, ok := g.engines.Get(d.Route)
	if !ok {
		return 0, false
	}
	g.metrics.RecordRuleEval(d.Route, "inbound")
	return engine.EvaluateInbound(method, d.DBTable, scope, exec)
}

func (g *Gateway) evaluateOutboundRows(d *config.EndpointDescriptor, method string, req, ctxFields map[string]interface{}, rows []dbfacade.Row, exec *rules.Executor) ([]dbfacade.Row, int, bool) {
	engine, ok := g.engines.Get(d.Route)
	if !ok {
		return rows, 0, false
	}
	g.metrics.RecordRuleEval(d.Route, "outbound")
	for i := range rows {
		scope := rules.NewOutboundScope(req, ctxFields, rows[i])
		status, halted := engine.EvaluateOutboundRow(method, d.DBTable, scope, exec)
		if halted {
			return rows[:i+1], status, true
		}
	}
	return rows, 0, false
}

func writeHaltedResponse(w http.ResponseWriter, status int, scope rules.Scope) {
	if msg, ok := scope.ResponseError(); ok {
		errors.New(status, msg).WriteJSON(w)
		return
	}
	writeJSON(w, status, scope.Data())
}

func (g *Gateway) handleRead(w http.ResponseWriter, r *http.Request, d *config.EndpointDescriptor, mutator *dbfacade.MutatorAdapter) {
	body, err := decodeBody(r)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	scope := g.scopeFor(r, body)
	exec := g.executor(r, mutator)

	if status, halted := g.evaluateInbound(d, "GET", scope, exec); halted {
		writeHaltedResponse(w, status, scope)
		return
	}

	var cacheKey string
	if h := g.cacheByRoute.GetHandler(d.Route); h != nil {
		cacheKey = cacheKeyFor(d.Route, r)
		if entry, ok := h.Get(cacheKey); ok {
			g.metrics.RecordCacheHit(d.Route)
			for k, vv := range entry.Headers {
				w.Header()[k] = vv
			}
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(entry.StatusCode)
			w.Write(entry.Body)
			return
		}
		g.metrics.RecordCacheMiss(d.Route)
	}

	opts, err := readOptionsFromQuery(d, r)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	if keys, ok := keyFilter(d, r); ok {
		if opts.Filter == nil {
			opts.Filter = map[string]interface{}{}
		}
		for k, v := range keys {
			opts.Filter[k] = v
		}
	}
	rows, err := g.facade.Read(r.Context(), d, d.DBTable, opts)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}

	req := scope["req"].(map[string]interface{})
	ctxFields := scope["context"].(map[string]interface{})
	rows, status, halted := g.evaluateOutboundRows(d, "GET", req, ctxFields, rows, exec)
	if halted {
		errors.New(status, "request halted by rule").WriteJSON(w)
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{"data": rows})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)

	if cacheKey != "" {
		if h := g.cacheByRoute.GetHandler(d.Route); h != nil {
			h.Store(cacheKey, http.StatusOK, http.Header{"Content-Type": {"application/json"}}, payload)
		}
	}
}

func cacheKeyFor(route string, r *http.Request) string {
	return cache.CanonicalKey(route, r.URL.Query())
}

func (g *Gateway) handleCreate(w http.ResponseWriter, r *http.Request, d *config.EndpointDescriptor, mutator *dbfacade.MutatorAdapter) {
	body, err := decodeBody(r)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	scope := g.scopeFor(r, body)
	exec := g.executor(r, mutator)

	if status, halted := g.evaluateInbound(d, "POST", scope, exec); halted {
		writeHaltedResponse(w, status, scope)
		return
	}

	result, err := g.facade.Create(r.Context(), d, d.DBTable, scope.Data())
	if err != nil {
		writeGatewayErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"insertedId": result.InsertedID,
		"rowCount":   result.RowCount,
	})
}

func (g *Gateway) handleUpdate(w http.ResponseWriter, r *http.Request, d *config.EndpointDescriptor, mutator *dbfacade.MutatorAdapter) {
	body, err := decodeBody(r)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	scope := g.scopeFor(r, body)
	exec := g.executor(r, mutator)

	if status, halted := g.evaluateInbound(d, r.Method, scope, exec); halted {
		writeHaltedResponse(w, status, scope)
		return
	}

	filter, ok := keyFilter(d, r)
	if !ok {
		errors.ValidationError("update requires every key from the route's keys list in the path").WriteJSON(w)
		return
	}

	rowCount, err := g.facade.Update(r.Context(), d, d.DBTable, filter, scope.Data())
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	if g.cacheByRoute.GetHandler(d.Route) != nil {
		g.cacheByRoute.PurgeRoute(d.Route)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rowCount": rowCount})
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request, d *config.EndpointDescriptor, mutator *dbfacade.MutatorAdapter) {
	scope := g.scopeFor(r, map[string]interface{}{})
	exec := g.executor(r, mutator)

	if status, halted := g.evaluateInbound(d, "DELETE", scope, exec); halted {
		writeHaltedResponse(w, status, scope)
		return
	}

	filter, ok := keyFilter(d, r)
	if !ok {
		errors.ValidationError("delete requires every key from the route's keys list in the path").WriteJSON(w)
		return
	}

	rowCount, err := g.facade.Delete(r.Context(), d, d.DBTable, filter)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	if rowCount == 0 {
		errors.New(http.StatusNotFound, "row not found").WriteJSON(w)
		return
	}
	if g.cacheByRoute.GetHandler(d.Route) != nil {
		g.cacheByRoute.PurgeRoute(d.Route)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rowCount": rowCount})
}

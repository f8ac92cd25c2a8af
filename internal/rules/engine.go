package rules

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/wudi/gateway/internal/byroute"
	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/luautil"
	"go.uber.org/zap"
)

// Engine holds every compiled group from one DSL source file and matches
// incoming evaluations to the groups sharing their (method, resource,
// direction).
type Engine struct {
	groups  []*Group
	metrics Metrics
	luaPool *sync.Pool
}

// NewEngine parses source into an Engine. A parse error keeps the caller
// free to discard the result and retain whatever engine was live before.
// A Lua state pool is only created when source contains at least one LUA
// statement, so routes that never touch the scripting engine pay nothing
// for it.
func NewEngine(source string) (*Engine, error) {
	groups, err := Parse(source)
	if err != nil {
		return nil, err
	}
	e := &Engine{groups: groups}
	if groupsUseLua(groups) {
		e.luaPool = newLuaPool()
	}
	return e, nil
}

func groupsUseLua(groups []*Group) bool {
	for _, g := range groups {
		for _, rule := range g.Rules {
			if statementUsesLua(rule.Then) || statementUsesLua(rule.Else) {
				return true
			}
		}
	}
	return false
}

func statementUsesLua(stmt Statement) bool {
	_, ok := stmt.(*LuaStmt)
	return ok
}

func newLuaPool() *sync.Pool {
	return &sync.Pool{
		New: func() interface{} {
			L := lua.NewState(lua.Options{SkipOpenLibs: true})
			lua.OpenBase(L)
			lua.OpenString(L)
			lua.OpenTable(L)
			lua.OpenMath(L)
			luautil.RegisterAll(L)
			return L
		},
	}
}

// LuaPool returns the engine's Lua state pool, or nil if source contained
// no LUA statements.
func (e *Engine) LuaPool() *sync.Pool {
	return e.luaPool
}

func (e *Engine) match(method, resource, direction string) []*Group {
	var matched []*Group
	for _, g := range e.groups {
		if g.Method != method || g.Resource != resource {
			continue
		}
		if g.Direction != "" && g.Direction != direction {
			continue
		}
		matched = append(matched, g)
	}
	return matched
}

// EvaluateInbound runs every rule matching (method, resource, "in") against
// scope in declaration order. It stops and returns the response status the
// first time a rule sets one, per the DSL's short-circuit contract.
func (e *Engine) EvaluateInbound(method, resource string, scope Scope, exec *Executor) (status int, halted bool) {
	return e.run(method, resource, "in", scope, exec)
}

// EvaluateOutboundRow runs every rule matching (method, resource, "out")
// against a single response row.
func (e *Engine) EvaluateOutboundRow(method, resource string, scope Scope, exec *Executor) (status int, halted bool) {
	return e.run(method, resource, "out", scope, exec)
}

func (e *Engine) run(method, resource, direction string, scope Scope, exec *Executor) (status int, halted bool) {
	if exec != nil && e.luaPool != nil && exec.LuaPool == nil {
		exec.LuaPool = e.luaPool
	}
	for _, group := range e.match(method, resource, direction) {
		for _, rule := range group.Rules {
			e.metrics.Evaluated.Add(1)
			matched, err := rule.Evaluate(scope, exec)
			if err != nil {
				e.metrics.Errors.Add(1)
				logging.Warn("rule evaluation error",
					zap.String("method", method), zap.String("resource", resource), zap.Error(err))
				continue
			}
			if !matched {
				continue
			}
			e.metrics.Matched.Add(1)
			countStatement(&e.metrics, rule.Then)
			if code, ok := scope.ResponseStatus(); ok {
				if code == 600 {
					code = 200
				}
				return code, true
			}
		}
	}
	return 0, false
}

func countStatement(m *Metrics, stmt Statement) {
	switch stmt.(type) {
	case *InsertStmt:
		m.Inserts.Add(1)
	case *UpdateStmt:
		m.Updates.Add(1)
	case *TriggerStmt:
		m.Triggers.Add(1)
	}
}

// Metrics returns a snapshot of evaluation counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// GroupCount reports how many EVENT sections this engine compiled, for
// admin introspection.
func (e *Engine) GroupCount() int {
	return len(e.groups)
}

// EnginesByRoute manages one compiled Engine per descriptor's
// businessRules DSL file, keyed by route ID.
type EnginesByRoute struct {
	manager *byroute.Manager[*Engine]
}

// NewEnginesByRoute creates an empty per-route engine manager.
func NewEnginesByRoute() *EnginesByRoute {
	return &EnginesByRoute{manager: byroute.New[*Engine]()}
}

// Load compiles source and stores it for routeID, replacing any engine
// already registered there.
func (m *EnginesByRoute) Load(routeID, source string) error {
	engine, err := NewEngine(source)
	if err != nil {
		return fmt.Errorf("route %s: %w", routeID, err)
	}
	m.manager.Add(routeID, engine)
	return nil
}

// Get returns the engine registered for routeID, if any.
func (m *EnginesByRoute) Get(routeID string) (*Engine, bool) {
	return m.manager.Get(routeID)
}

// Remove drops the engine registered for routeID.
func (m *EnginesByRoute) Remove(routeID string) {
	m.manager.Remove(routeID)
}

package rules

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lua "github.com/yuin/gopher-lua"

	"github.com/wudi/gateway/internal/luautil"
	"github.com/wudi/gateway/internal/sharedctx"
)

// compileExpr compiles src against the dynamic Scope environment, allowing
// identifiers that don't exist on every request (a body field absent from
// one request but present on another).
func compileExpr(src string) (*vm.Program, error) {
	return expr.Compile(src, expr.Env(Scope{}), expr.AllowUndefinedVariables())
}

func evalExpr(program *vm.Program, scope Scope) (interface{}, error) {
	return expr.Run(program, scope)
}

func evalBool(program *vm.Program, scope Scope) (bool, error) {
	out, err := evalExpr(program, scope)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		return v != "", nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return true, nil
	}
}

// Statement is one DSL action: an assignment, INSERT, UPDATE, or TRIGGER.
type Statement interface {
	// Apply executes the statement against scope, using mutator for
	// INSERT/UPDATE and sink for TRIGGER and async-default mutations.
	Apply(scope Scope, exec *Executor) error
	describe() string
}

// AssignStmt sets a field on data, req, or response ("discount = expr",
// "data.secret = null", "response.status = 403").
type AssignStmt struct {
	Target    string // "data", "req", or "response"
	Field     string // dotted remainder, e.g. "secret" or "status"
	ValueSrc  string
	ValueProg *vm.Program
}

func (s *AssignStmt) Apply(scope Scope, exec *Executor) error {
	val, err := evalExpr(s.ValueProg, scope)
	if err != nil {
		return fmt.Errorf("assign %s.%s: %w", s.Target, s.Field, err)
	}
	target, _ := scope[s.Target].(map[string]interface{})
	if target == nil {
		target = map[string]interface{}{}
		scope[s.Target] = target
	}
	target[s.Field] = val
	return nil
}

func (s *AssignStmt) describe() string { return s.Target + "." + s.Field + " = " + s.ValueSrc }

// InsertStmt is `[SYNC] INSERT INTO table VALUES (expr, expr, ...)`.
type InsertStmt struct {
	Table      string
	Sync       bool
	ValuesSrc  []string
	ValuesProg []*vm.Program
}

func (s *InsertStmt) Apply(scope Scope, exec *Executor) error {
	values := make([]interface{}, len(s.ValuesProg))
	for i, prog := range s.ValuesProg {
		v, err := evalExpr(prog, scope)
		if err != nil {
			return fmt.Errorf("insert into %s: value %d: %w", s.Table, i, err)
		}
		values[i] = v
	}
	if s.Sync {
		return exec.insertSync(s.Table, values)
	}
	return exec.insertAsync(s.Table, values)
}

func (s *InsertStmt) describe() string { return "INSERT INTO " + s.Table }

// UpdateStmt is `[SYNC] UPDATE table SET field = expr WHERE field == expr [AND ...]`.
type UpdateStmt struct {
	Table        string
	Sync         bool
	SetField     string
	SetValueSrc  string
	SetValueProg *vm.Program
	WhereFields  []string
	WhereSrc     []string
	WhereProg    []*vm.Program
}

func (s *UpdateStmt) Apply(scope Scope, exec *Executor) error {
	value, err := evalExpr(s.SetValueProg, scope)
	if err != nil {
		return fmt.Errorf("update %s set %s: %w", s.Table, s.SetField, err)
	}
	filter := make(map[string]interface{}, len(s.WhereFields))
	for i, field := range s.WhereFields {
		v, err := evalExpr(s.WhereProg[i], scope)
		if err != nil {
			return fmt.Errorf("update %s where %s: %w", s.Table, field, err)
		}
		filter[field] = v
	}
	patch := map[string]interface{}{s.SetField: value}
	if s.Sync {
		return exec.updateSync(s.Table, filter, patch)
	}
	return exec.updateAsync(s.Table, filter, patch)
}

func (s *UpdateStmt) describe() string { return "UPDATE " + s.Table + " SET " + s.SetField }

// TriggerStmt is `TRIGGER {objectLiteral}` — always enqueued, never run
// synchronously.
type TriggerStmt struct {
	PayloadSrc  string
	PayloadProg *vm.Program
}

func (s *TriggerStmt) Apply(scope Scope, exec *Executor) error {
	out, err := evalExpr(s.PayloadProg, scope)
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	payload, ok := out.(map[string]interface{})
	if !ok {
		return fmt.Errorf("trigger: payload must be an object literal")
	}
	return exec.trigger(payload)
}

func (s *TriggerStmt) describe() string { return "TRIGGER " + s.PayloadSrc }

// LuaStmt is `LUA <script>` — a single-line Lua script given req/ctx
// userdata for the in-flight request, the same handles the embedded
// scripting engine exposes everywhere else it runs.
type LuaStmt struct {
	Source string
	Proto  *lua.FunctionProto
}

func (s *LuaStmt) Apply(scope Scope, exec *Executor) error {
	if exec == nil || exec.LuaPool == nil {
		return fmt.Errorf("lua: no lua pool available for this engine")
	}
	if exec.Request == nil {
		return fmt.Errorf("lua: no request available")
	}

	L := exec.LuaPool.Get().(*lua.LState)
	defer exec.LuaPool.Put(L)

	var rc *sharedctx.RequestContext
	if exec.Ctx != nil {
		if v, ok := sharedctx.FromContext(exec.Ctx); ok {
			rc = v
		}
	}

	L.SetGlobal("req", luautil.NewRequestUserData(L, exec.Request))
	L.SetGlobal("ctx", luautil.NewContextUserData(L, exec.Request, rc))

	fn := L.NewFunctionFromProto(s.Proto)
	return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
}

func (s *LuaStmt) describe() string { return "LUA " + s.Source }

// Rule is one evaluable unit within a Group: an optional condition (from
// IF or a preceding WHEN guard) and the statement(s) it gates.
type Rule struct {
	ConditionSrc string
	Condition    *vm.Program // nil means "always true"
	Then         Statement
	Else         Statement // only set for IF ... THEN ... ELSE ...
}

// Evaluate runs the rule's condition (if any) and applies Then or Else.
// Condition errors and statement errors are both returned for the caller
// to log and continue past, per the DSL's failure semantics.
func (r *Rule) Evaluate(scope Scope, exec *Executor) (matched bool, err error) {
	if r.Condition != nil {
		ok, err := evalBool(r.Condition, scope)
		if err != nil {
			return false, err
		}
		if !ok {
			if r.Else != nil {
				return true, r.Else.Apply(scope, exec)
			}
			return false, nil
		}
	}
	return true, r.Then.Apply(scope, exec)
}

// Group is one EVENT section: all rules sharing a method, resource, and
// direction.
type Group struct {
	Method    string
	Resource  string
	Direction string // "in", "out", or "" for both
	Rules     []*Rule
}

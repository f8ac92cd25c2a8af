package rules

import (
	"context"
	"net/http"
	"sync"
)

// Mutator performs synchronous database writes for SYNC INSERT/UPDATE
// statements. The gateway wiring layer supplies an implementation backed
// by the DB adapter facade; the rules package stays decoupled from it the
// same way auth.CredentialLookup decouples authentication from storage.
type Mutator interface {
	Insert(ctx context.Context, table string, values []interface{}) error
	Update(ctx context.Context, table string, filter, patch map[string]interface{}) error
}

// EventSink enqueues work the event logger will execute asynchronously:
// default (non-SYNC) INSERT/UPDATE statements, and every TRIGGER.
type EventSink interface {
	EnqueueInsert(ctx context.Context, table string, values []interface{}) error
	EnqueueUpdate(ctx context.Context, table string, filter, patch map[string]interface{}) error
	EnqueueTrigger(ctx context.Context, payload map[string]interface{}) error
}

// Executor binds a rule evaluation to the concrete Mutator/EventSink for
// one request, plus the context used for any synchronous work. Request and
// LuaPool are only consulted by a LUA statement; every other statement
// ignores them.
type Executor struct {
	Ctx     context.Context
	Mutator Mutator
	Sink    EventSink
	Request *http.Request
	LuaPool *sync.Pool
}

func (e *Executor) insertSync(table string, values []interface{}) error {
	if e.Mutator == nil {
		return e.insertAsync(table, values)
	}
	return e.Mutator.Insert(e.Ctx, table, values)
}

func (e *Executor) insertAsync(table string, values []interface{}) error {
	if e.Sink == nil {
		return nil
	}
	return e.Sink.EnqueueInsert(e.Ctx, table, values)
}

func (e *Executor) updateSync(table string, filter, patch map[string]interface{}) error {
	if e.Mutator == nil {
		return e.updateAsync(table, filter, patch)
	}
	return e.Mutator.Update(e.Ctx, table, filter, patch)
}

func (e *Executor) updateAsync(table string, filter, patch map[string]interface{}) error {
	if e.Sink == nil {
		return nil
	}
	return e.Sink.EnqueueUpdate(e.Ctx, table, filter, patch)
}

func (e *Executor) trigger(payload map[string]interface{}) error {
	if e.Sink == nil {
		return nil
	}
	return e.Sink.EnqueueTrigger(e.Ctx, payload)
}

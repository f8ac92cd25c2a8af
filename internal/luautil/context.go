package luautil

import (
	"net/http"

	lua "github.com/yuin/gopher-lua"

	"github.com/wudi/gateway/internal/sharedctx"
)

// NewContextUserData creates a Lua userdata exposing the request's shared
// context: request id, route, identity, and the scratch data map rule
// actions and plugin handlers read/write across the chain.
func NewContextUserData(L *lua.LState, r *http.Request, rc *sharedctx.RequestContext) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = &ctxData{r: r, rc: rc}

	mt := L.NewTable()
	index := L.NewTable()

	L.SetField(index, "route_id", L.NewFunction(ctxRouteID))
	L.SetField(index, "request_id", L.NewFunction(ctxRequestID))
	L.SetField(index, "subject", L.NewFunction(ctxSubject))
	L.SetField(index, "has_role", L.NewFunction(ctxHasRole))
	L.SetField(index, "get_var", L.NewFunction(ctxGetVar))
	L.SetField(index, "set_var", L.NewFunction(ctxSetVar))

	L.SetField(mt, "__index", index)
	L.SetMetatable(ud, mt)
	return ud
}

type ctxData struct {
	r  *http.Request
	rc *sharedctx.RequestContext
}

func checkCtxData(L *lua.LState) *ctxData {
	ud := L.CheckUserData(1)
	if cd, ok := ud.Value.(*ctxData); ok {
		return cd
	}
	L.ArgError(1, "ctx expected")
	return nil
}

func ctxRouteID(L *lua.LState) int {
	cd := checkCtxData(L)
	if cd.rc != nil {
		L.Push(lua.LString(cd.rc.Route))
	} else {
		L.Push(lua.LString(""))
	}
	return 1
}

func ctxRequestID(L *lua.LState) int {
	cd := checkCtxData(L)
	if cd.rc != nil {
		L.Push(lua.LString(cd.rc.RequestID))
	} else {
		L.Push(lua.LString(""))
	}
	return 1
}

func ctxSubject(L *lua.LState) int {
	cd := checkCtxData(L)
	if cd.rc != nil && cd.rc.Identity != nil {
		L.Push(lua.LString(cd.rc.Identity.Subject))
	} else {
		L.Push(lua.LString(""))
	}
	return 1
}

func ctxHasRole(L *lua.LState) int {
	cd := checkCtxData(L)
	role := L.CheckString(2)
	if cd.rc != nil {
		L.Push(lua.LBool(cd.rc.Identity.HasRole(role)))
	} else {
		L.Push(lua.LBool(false))
	}
	return 1
}

func ctxGetVar(L *lua.LState) int {
	cd := checkCtxData(L)
	name := L.CheckString(2)
	if cd.rc != nil {
		if v, ok := cd.rc.Get(name); ok {
			L.Push(interfaceToLuaValue(L, v))
			return 1
		}
	}
	L.Push(lua.LNil)
	return 1
}

func ctxSetVar(L *lua.LState) int {
	cd := checkCtxData(L)
	name := L.CheckString(2)
	value := L.CheckAny(3)
	if cd.rc != nil {
		cd.rc.Set(name, luaValueToInterface(value))
	}
	return 0
}

package luautil

import (
	"net/http/httptest"
	"testing"

	"github.com/wudi/gateway/internal/sharedctx"
)

func TestContextUserData_RouteID(t *testing.T) {
	L := newTestState()
	defer L.Close()

	r := httptest.NewRequest("GET", "/", nil)
	rc := sharedctx.NewRequestContext("req-123", "my-route")

	L.SetGlobal("ctx", NewContextUserData(L, r, rc))
	if err := L.DoString(`result = ctx:route_id()`); err != nil {
		t.Fatalf("error: %v", err)
	}
	if L.GetGlobal("result").String() != "my-route" {
		t.Errorf("expected 'my-route', got %s", L.GetGlobal("result").String())
	}
}

func TestContextUserData_RequestID(t *testing.T) {
	L := newTestState()
	defer L.Close()

	r := httptest.NewRequest("GET", "/", nil)
	rc := sharedctx.NewRequestContext("req-123", "my-route")

	L.SetGlobal("ctx", NewContextUserData(L, r, rc))
	if err := L.DoString(`result = ctx:request_id()`); err != nil {
		t.Fatalf("error: %v", err)
	}
	if L.GetGlobal("result").String() != "req-123" {
		t.Errorf("expected 'req-123', got %s", L.GetGlobal("result").String())
	}
}

func TestContextUserData_SubjectAndRole(t *testing.T) {
	L := newTestState()
	defer L.Close()

	r := httptest.NewRequest("GET", "/", nil)
	rc := sharedctx.NewRequestContext("req-1", "my-route")
	rc.Identity = &sharedctx.Identity{Subject: "user-42", ACL: []string{"admin"}}

	L.SetGlobal("ctx", NewContextUserData(L, r, rc))
	if err := L.DoString(`
		subject = ctx:subject()
		is_admin = ctx:has_role("admin")
		is_viewer = ctx:has_role("viewer")
	`); err != nil {
		t.Fatalf("error: %v", err)
	}
	if L.GetGlobal("subject").String() != "user-42" {
		t.Errorf("expected subject 'user-42', got %s", L.GetGlobal("subject").String())
	}
	if L.GetGlobal("is_admin").String() != "true" {
		t.Errorf("expected is_admin true, got %v", L.GetGlobal("is_admin"))
	}
	if L.GetGlobal("is_viewer").String() != "false" {
		t.Errorf("expected is_viewer false, got %v", L.GetGlobal("is_viewer"))
	}
}

func TestContextUserData_CustomVars(t *testing.T) {
	L := newTestState()
	defer L.Close()

	r := httptest.NewRequest("GET", "/", nil)
	rc := sharedctx.NewRequestContext("req-1", "my-route")
	rc.Set("existing", "value")

	L.SetGlobal("ctx", NewContextUserData(L, r, rc))
	if err := L.DoString(`
		existing = ctx:get_var("existing")
		ctx:set_var("new_key", "new_value")
		new_val = ctx:get_var("new_key")
	`); err != nil {
		t.Fatalf("error: %v", err)
	}
	if L.GetGlobal("existing").String() != "value" {
		t.Errorf("expected existing 'value', got %s", L.GetGlobal("existing").String())
	}
	if L.GetGlobal("new_val").String() != "new_value" {
		t.Errorf("expected new_val 'new_value', got %s", L.GetGlobal("new_val").String())
	}

	v, ok := rc.Get("new_key")
	if !ok || v != "new_value" {
		t.Errorf("expected rc scratch data 'new_key'='new_value', got %v", v)
	}
}

func TestContextUserData_NilRequestContext(t *testing.T) {
	L := newTestState()
	defer L.Close()

	r := httptest.NewRequest("GET", "/", nil)

	L.SetGlobal("ctx", NewContextUserData(L, r, nil))
	if err := L.DoString(`
		route_id = ctx:route_id()
		subject = ctx:subject()
		has_role = ctx:has_role("admin")
	`); err != nil {
		t.Fatalf("error: %v", err)
	}
	if L.GetGlobal("route_id").String() != "" {
		t.Errorf("expected empty route_id, got %s", L.GetGlobal("route_id").String())
	}
	if L.GetGlobal("subject").String() != "" {
		t.Errorf("expected empty subject, got %s", L.GetGlobal("subject").String())
	}
}

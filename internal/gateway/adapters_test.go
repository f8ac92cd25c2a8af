package gateway

import (
	"encoding/json"
	"testing"

	"github.com/wudi/gateway/internal/config"
)

func testGatewayWithRoutes(t *testing.T) *Gateway {
	t.Helper()
	g := New(Deps{})
	cs := &config.ConfigSet{Endpoints: []config.EndpointDescriptor{
		{RouteType: config.RouteDef, DBTable: "widgets"},
		{RouteType: config.RouteStatic, Route: "/static/{*rest}", StaticPath: "./public", AllowMethods: []string{"GET"}},
	}}
	if err := g.RegisterRoutes(cs); err != nil {
		t.Fatalf("RegisterRoutes: %v", err)
	}
	return g
}

func TestRoutesOmitsDefAndIncludesMethods(t *testing.T) {
	g := testGatewayWithRoutes(t)

	out, err := g.Routes()
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}

	var routes []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &routes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("expected exactly one route (def entries excluded), got %d: %s", len(routes), out)
	}
	if routes[0]["route"] != "/static/{*rest}" {
		t.Errorf("unexpected route: %v", routes[0]["route"])
	}
}

func TestNodeInfoByRouteAndType(t *testing.T) {
	g := testGatewayWithRoutes(t)

	out, ok := g.NodeInfo("/static/{*rest}", "static")
	if !ok {
		t.Fatal("expected a match for the static route")
	}
	var d config.EndpointDescriptor
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.StaticPath != "./public" {
		t.Errorf("unexpected staticPath: %q", d.StaticPath)
	}

	if _, ok := g.NodeInfo("/nope", "static"); ok {
		t.Error("expected no match for an unregistered route")
	}
}

func TestShowRulesEmptyWhenNoEnginesCompiled(t *testing.T) {
	g := testGatewayWithRoutes(t)
	out, err := g.ShowRules()
	if err != nil {
		t.Fatalf("ShowRules: %v", err)
	}
	if out != "{}" {
		t.Errorf("expected an empty object with no business rules configured, got %s", out)
	}
}

func TestNodeInfoNilConfigSet(t *testing.T) {
	g := New(Deps{})
	if _, ok := g.NodeInfo("/anything", "static"); ok {
		t.Error("expected no match before any ConfigSet has been registered")
	}
}

package gateway

import (
	"encoding/json"

	"github.com/wudi/gateway/internal/config"
)

// ShowRules implements admin.RulesManager: a per-route snapshot of each
// compiled rule engine's group count and evaluation counters.
func (g *Gateway) ShowRules() (string, error) {
	cs := g.ConfigSet()
	if cs == nil || g.engines == nil {
		return "{}", nil
	}
	out := make(map[string]interface{})
	for _, d := range cs.Endpoints {
		engine, ok := g.engines.Get(d.Route)
		if !ok {
			continue
		}
		out[d.Route] = map[string]interface{}{
			"groups":  engine.GroupCount(),
			"metrics": engine.Metrics(),
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Routes implements admin.RouteLister: every registered (method, route,
// routeType) triple as JSON.
func (g *Gateway) Routes() (string, error) {
	cs := g.ConfigSet()
	if cs == nil {
		return "[]", nil
	}
	type routeInfo struct {
		Route     string   `json:"route"`
		RouteType string   `json:"routeType"`
		Methods   []string `json:"methods"`
		DBTable   string   `json:"dbTable,omitempty"`
	}
	var out []routeInfo
	for _, d := range cs.Endpoints {
		if d.RouteType == config.RouteDef || d.Route == "" {
			continue
		}
		methods := d.AllowMethods
		if len(methods) == 0 {
			methods = []string{"GET"}
		}
		out = append(out, routeInfo{Route: d.Route, RouteType: string(d.RouteType), Methods: methods, DBTable: d.DBTable})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NodeInfo implements admin.RouteLister: with routeType "def" it looks a
// descriptor up by table name; with any other routeType it looks for a
// descriptor with that route path and that routeType.
func (g *Gateway) NodeInfo(routeOrTable, routeType string) (string, bool) {
	cs := g.ConfigSet()
	if cs == nil {
		return "", false
	}

	var d *config.EndpointDescriptor
	if routeType == string(config.RouteDef) {
		found, ok := cs.LookupTable(routeOrTable)
		if !ok {
			return "", false
		}
		d = found
	} else {
		for i := range cs.Endpoints {
			if cs.Endpoints[i].Route == routeOrTable && string(cs.Endpoints[i].RouteType) == routeType {
				d = &cs.Endpoints[i]
				break
			}
		}
		if d == nil {
			return "", false
		}
	}

	data, err := json.Marshal(d)
	if err != nil {
		return "", false
	}
	return string(data), true
}

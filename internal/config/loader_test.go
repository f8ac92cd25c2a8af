package config

import (
	"encoding/json"
	"testing"
)

func marshalEndpoints(t *testing.T, endpoints []EndpointDescriptor) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{"endpoints": endpoints})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}

func TestLoaderValidateDatabaseRoutes(t *testing.T) {
	tests := []struct {
		name      string
		endpoints []EndpointDescriptor
		wantErr   bool
	}{
		{
			name: "valid read-only database route",
			endpoints: []EndpointDescriptor{{
				RouteType:    RouteDatabase,
				Route:        "/products",
				DBType:       "sqlite",
				DBConnection: "file::memory:",
				DBTable:      "products",
				AllowMethods: []string{"GET"},
				AllowRead:    []string{"id", "name"},
			}},
			wantErr: false,
		},
		{
			name: "valid mutation route with keys",
			endpoints: []EndpointDescriptor{{
				RouteType:         RouteDatabase,
				Route:             "/products/{id}",
				DBType:            "sqlite",
				DBConnection:      "file::memory:",
				DBTable:           "products",
				AllowMethods:      []string{"GET", "PUT", "DELETE"},
				Keys:              []string{"id"},
				AllowRead:         []string{"id", "name"},
				AllowWrite:        []string{"name"},
				ColumnDefinitions: map[string]string{"id": "number", "name": "string"},
			}},
			wantErr: false,
		},
		{
			name: "mutation route missing keys",
			endpoints: []EndpointDescriptor{{
				RouteType:         RouteDatabase,
				Route:             "/products",
				DBType:            "sqlite",
				DBConnection:      "file::memory:",
				DBTable:           "products",
				AllowMethods:      []string{"POST"},
				AllowWrite:        []string{"name"},
				ColumnDefinitions: map[string]string{"name": "string"},
			}},
			wantErr: true,
		},
		{
			name: "allowWrite column not declared anywhere",
			endpoints: []EndpointDescriptor{{
				RouteType:         RouteDatabase,
				Route:             "/products/{id}",
				DBType:            "sqlite",
				DBConnection:      "file::memory:",
				DBTable:           "products",
				AllowMethods:      []string{"PUT"},
				Keys:              []string{"id"},
				AllowWrite:        []string{"name", "secret"},
				ColumnDefinitions: map[string]string{"name": "string"},
			}},
			wantErr: true,
		},
		{
			name: "allowWrite column reachable through a relationship",
			endpoints: []EndpointDescriptor{{
				RouteType:         RouteDatabase,
				Route:             "/orders/{id}",
				DBType:            "sqlite",
				DBConnection:      "file::memory:",
				DBTable:           "orders",
				AllowMethods:      []string{"PUT"},
				Keys:              []string{"id"},
				AllowWrite:        []string{"status", "customer_name"},
				ColumnDefinitions: map[string]string{"status": "string"},
				Relationships: []Relationship{{
					RelatedTable: "customers",
					ForeignKey:   "customer_id",
					RelatedKey:   "id",
					Fields:       []string{"customer_name"},
				}},
			}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader()
			_, err := loader.Parse(marshalEndpoints(t, tt.endpoints))
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoaderValidateRouteTypeBasics(t *testing.T) {
	tests := []struct {
		name      string
		endpoints []EndpointDescriptor
		wantErr   bool
	}{
		{
			name:      "invalid routeType",
			endpoints: []EndpointDescriptor{{RouteType: "bogus", Route: "/x"}},
			wantErr:   true,
		},
		{
			name:      "proxy route missing upstreamURL",
			endpoints: []EndpointDescriptor{{RouteType: RouteProxy, Route: "/api"}},
			wantErr:   true,
		},
		{
			name: "valid proxy route",
			endpoints: []EndpointDescriptor{{
				RouteType:   RouteProxy,
				Route:       "/api",
				UpstreamURL: "http://localhost:9000",
			}},
			wantErr: false,
		},
		{
			name: "duplicate route and method",
			endpoints: []EndpointDescriptor{
				{RouteType: RouteProxy, Route: "/api", UpstreamURL: "http://localhost:9000", AllowMethods: []string{"GET"}},
				{RouteType: RouteProxy, Route: "/api", UpstreamURL: "http://localhost:9001", AllowMethods: []string{"GET"}},
			},
			wantErr: true,
		},
		{
			name: "invalid dbTable identifier",
			endpoints: []EndpointDescriptor{{
				RouteType:    RouteDatabase,
				Route:        "/products",
				DBType:       "sqlite",
				DBConnection: "file::memory:",
				DBTable:      "products; DROP TABLE products",
				AllowRead:    []string{"id"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader()
			_, err := loader.Parse(marshalEndpoints(t, tt.endpoints))
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

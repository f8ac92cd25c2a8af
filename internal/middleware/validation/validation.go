// Package validation checks request bodies written to database routes
// against an endpoint descriptor's per-field validationRules, using a
// JSON Schema synthesized from those rules at route-registration time.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wudi/gateway/internal/byroute"
	"github.com/wudi/gateway/internal/config"
	gatewayerrors "github.com/wudi/gateway/internal/errors"
)

// Metrics tracks validation outcomes for a route.
type Metrics struct {
	Validated atomic.Int64
	Failed    atomic.Int64
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"validated": m.Validated.Load(),
		"failed":    m.Failed.Load(),
	}
}

// Validator checks a JSON request body against one route's validationRules.
type Validator struct {
	schema  *jsonschema.Schema
	metrics *Metrics
}

// New compiles rules into a Validator. A nil/empty rule set produces a
// Validator that accepts every body.
func New(rules []config.ValidationRule) (*Validator, error) {
	v := &Validator{metrics: &Metrics{}}
	if len(rules) == 0 {
		return v, nil
	}

	schemaDoc := rulesToJSONSchema(rules)
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesized schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to reparse synthesized schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("route.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := c.Compile("route.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile validation rules: %w", err)
	}
	v.schema = schema
	return v, nil
}

// rulesToJSONSchema translates the descriptor's per-field rules into a
// JSON Schema object schema jsonschema/v6 can compile directly.
func rulesToJSONSchema(rules []config.ValidationRule) map[string]interface{} {
	properties := make(map[string]interface{}, len(rules))
	var required []string

	for _, rule := range rules {
		prop := map[string]interface{}{}
		if rule.Type != "" {
			prop["type"] = jsonSchemaType(rule.Type)
		}
		if rule.Pattern != "" {
			prop["pattern"] = rule.Pattern
		}
		if rule.Min != nil {
			prop["minimum"] = *rule.Min
		}
		if rule.Max != nil {
			prop["maximum"] = *rule.Max
		}
		if len(rule.Enum) > 0 {
			enum := make([]interface{}, len(rule.Enum))
			for i, e := range rule.Enum {
				enum[i] = e
			}
			prop["enum"] = enum
		}
		properties[rule.Field] = prop
		if rule.Required {
			required = append(required, rule.Field)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonSchemaType(t string) string {
	switch t {
	case "number", "string", "boolean", "array", "object", "integer", "null":
		return t
	default:
		return "string"
	}
}

// Enabled reports whether the validator has any rules to enforce.
func (v *Validator) Enabled() bool {
	return v.schema != nil
}

// Metrics returns the validator's counters.
func (v *Validator) Metrics() *Metrics {
	return v.metrics
}

// Validate reads and restores r.Body, checking it against the compiled
// schema. A non-JSON or empty body with no rules configured is accepted.
func (v *Validator) Validate(r *http.Request) error {
	if v.schema == nil {
		return nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return gatewayerrors.ValidationError("failed to read request body")
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	if len(body) == 0 {
		v.metrics.Validated.Add(1)
		if err := v.schema.Validate(map[string]interface{}{}); err != nil {
			v.metrics.Failed.Add(1)
			return gatewayerrors.ValidationError(err.Error())
		}
		return nil
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		v.metrics.Validated.Add(1)
		v.metrics.Failed.Add(1)
		return gatewayerrors.ValidationError("invalid JSON body: " + err.Error())
	}

	v.metrics.Validated.Add(1)
	if err := v.schema.Validate(data); err != nil {
		v.metrics.Failed.Add(1)
		return gatewayerrors.ValidationError(err.Error())
	}
	return nil
}

// ValidatorByRoute holds one Validator per route carrying validationRules.
type ValidatorByRoute struct {
	byroute.Manager[*Validator]
}

// NewValidatorByRoute creates an empty per-route validator manager.
func NewValidatorByRoute() *ValidatorByRoute {
	return &ValidatorByRoute{}
}

// AddRoute compiles and installs a Validator for routeID. A descriptor
// with no validationRules gets no entry, so the middleware chain skips
// the stage entirely.
func (m *ValidatorByRoute) AddRoute(routeID string, rules []config.ValidationRule) error {
	if len(rules) == 0 {
		return nil
	}
	v, err := New(rules)
	if err != nil {
		return err
	}
	m.Add(routeID, v)
	return nil
}

// Middleware returns the validation stage for routeID, or nil if the
// route has no rules configured.
func (m *ValidatorByRoute) Middleware(routeID string) func(http.Handler) http.Handler {
	v, ok := m.Get(routeID)
	if !ok || !v.Enabled() {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}
			if err := v.Validate(r); err != nil {
				gwErr, ok := err.(*gatewayerrors.GatewayError)
				if !ok {
					gwErr = gatewayerrors.ValidationError(err.Error())
				}
				gwErr.WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

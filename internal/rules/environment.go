package rules

import "github.com/wudi/gateway/internal/sharedctx"

// Scope is the evaluation environment every rule condition and expression
// runs against: req/context/data, plus response for outbound short-circuit
// signalling. Unlike a fixed Go struct, it stays a plain map so arbitrary
// JSON request bodies and DB rows — whose shape isn't known until a
// descriptor's columnDefinitions are loaded — can be addressed by dotted
// path without a schema.
type Scope map[string]interface{}

// ReqFields builds the "req" scope entry from an HTTP request already
// decoded into its component parts.
func ReqFields(method string, body map[string]interface{}, query, pathParams map[string]string) map[string]interface{} {
	q := make(map[string]interface{}, len(query))
	for k, v := range query {
		q[k] = v
	}
	p := make(map[string]interface{}, len(pathParams))
	for k, v := range pathParams {
		p[k] = v
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	return map[string]interface{}{
		"method": method,
		"body":   body,
		"query":  q,
		"params": p,
	}
}

// ContextFields builds the "context" scope entry from a request's shared
// identity.
func ContextFields(rc *sharedctx.RequestContext) map[string]interface{} {
	fields := map[string]interface{}{
		"route_id":   "",
		"request_id": "",
		"subject":    "",
		"acl":        []interface{}{},
	}
	if rc == nil {
		return fields
	}
	fields["route_id"] = rc.Route
	fields["request_id"] = rc.RequestID
	if rc.Identity != nil {
		fields["subject"] = rc.Identity.Subject
		acl := make([]interface{}, len(rc.Identity.ACL))
		for i, role := range rc.Identity.ACL {
			acl[i] = role
		}
		fields["acl"] = acl
	}
	return fields
}

// NewInboundScope builds the scope for a request-phase rule evaluation:
// data starts out as the request body, so field assignments on bare names
// ("discount = ...") mutate the same map the handler will persist.
func NewInboundScope(req map[string]interface{}, ctx map[string]interface{}, data map[string]interface{}) Scope {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Scope{
		"req":      req,
		"context":  ctx,
		"data":     data,
		"response": map[string]interface{}{},
	}
}

// NewOutboundScope builds the scope for one row of a response-phase rule
// evaluation: data is the row itself, so "data.secret = null" mutates it
// directly and the row is the unit of iteration, not the whole envelope.
func NewOutboundScope(req map[string]interface{}, ctx map[string]interface{}, row map[string]interface{}) Scope {
	if row == nil {
		row = map[string]interface{}{}
	}
	return Scope{
		"req":      req,
		"context":  ctx,
		"data":     row,
		"response": map[string]interface{}{},
	}
}

// ResponseStatus reports the status code a rule set via "response.status",
// and whether one was set at all.
func (s Scope) ResponseStatus() (int, bool) {
	resp, _ := s["response"].(map[string]interface{})
	if resp == nil {
		return 0, false
	}
	switch v := resp["status"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// ResponseError reports the error message a rule set via
// "response.error", if any.
func (s Scope) ResponseError() (string, bool) {
	resp, _ := s["response"].(map[string]interface{})
	if resp == nil {
		return "", false
	}
	if v, ok := resp["error"].(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// Data returns the scope's mutable data map (scratch map inbound, row
// outbound).
func (s Scope) Data() map[string]interface{} {
	d, _ := s["data"].(map[string]interface{})
	return d
}

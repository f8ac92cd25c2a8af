package validation

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wudi/gateway/internal/config"
)

func ptrFloat(f float64) *float64 { return &f }

func TestValidatorRequiredFields(t *testing.T) {
	v, err := New([]config.ValidationRule{
		{Field: "name", Type: "string", Required: true},
		{Field: "email", Type: "string", Required: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"name":"John","email":"john@example.com"}`)))
		if err := v.Validate(r); err != nil {
			t.Errorf("expected valid body to pass, got %v", err)
		}
	})

	t.Run("missing required field", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"name":"John"}`)))
		if err := v.Validate(r); err == nil {
			t.Error("expected error for missing required field")
		}
	})
}

func TestValidatorTypeMismatch(t *testing.T) {
	v, err := New([]config.ValidationRule{
		{Field: "stock", Type: "number"},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"stock":"not-a-number"}`)))
	if err := v.Validate(r); err == nil {
		t.Error("expected type mismatch to fail validation")
	}
}

func TestValidatorMinMax(t *testing.T) {
	v, err := New([]config.ValidationRule{
		{Field: "price", Type: "number", Min: ptrFloat(0), Max: ptrFloat(1000)},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := v.Validate(httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"price":50}`)))); err != nil {
		t.Errorf("expected in-range price to pass, got %v", err)
	}
	if err := v.Validate(httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"price":-5}`)))); err == nil {
		t.Error("expected negative price to fail")
	}
}

func TestValidatorEnum(t *testing.T) {
	v, err := New([]config.ValidationRule{
		{Field: "status", Type: "string", Enum: []string{"active", "inactive"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := v.Validate(httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"status":"active"}`)))); err != nil {
		t.Errorf("expected enum member to pass, got %v", err)
	}
	if err := v.Validate(httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"status":"deleted"}`)))); err == nil {
		t.Error("expected non-member enum value to fail")
	}
}

func TestValidatorNoRulesAcceptsAnything(t *testing.T) {
	v, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.Enabled() {
		t.Error("expected validator with no rules to be disabled")
	}
	r := httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"anything":true}`)))
	if err := v.Validate(r); err != nil {
		t.Errorf("expected no-rule validator to accept anything, got %v", err)
	}
}

func TestValidatorByRouteSkipsUnconfigured(t *testing.T) {
	vbr := NewValidatorByRoute()
	if err := vbr.AddRoute("no-rules", nil); err != nil {
		t.Fatal(err)
	}

	if mw := vbr.Middleware("no-rules"); mw != nil {
		t.Error("expected nil middleware for a route with no validationRules")
	}
	if mw := vbr.Middleware("unknown"); mw != nil {
		t.Error("expected nil middleware for an unconfigured route")
	}
}

func TestValidatorByRouteRejectsInvalidBody(t *testing.T) {
	vbr := NewValidatorByRoute()
	if err := vbr.AddRoute("products", []config.ValidationRule{
		{Field: "name", Type: "string", Required: true},
	}); err != nil {
		t.Fatal(err)
	}

	mw := vbr.Middleware("products")
	if mw == nil {
		t.Fatal("expected middleware to be installed")
	}

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("POST", "/products", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing required field, got %d", rr.Code)
	}

	req2 := httptest.NewRequest("POST", "/products", bytes.NewReader([]byte(`{"name":"widget"}`)))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusCreated {
		t.Errorf("expected 201 for valid body, got %d", rr2.Code)
	}
}

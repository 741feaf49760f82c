package validation

import (
	"errors"
	"testing"
)

func TestValidateFullDocument(t *testing.T) {
	v := New(Rules{
		Required: []string{"name", "content"},
		Types:    map[string]string{"name": "string", "meta.count": "number"},
		MaxLen:   map[string]int{"name": 10},
		Enums:    map[string][]string{"status": {"draft", "published"}},
	})

	ok := map[string]interface{}{
		"name":    "Sample",
		"content": "Hello",
		"meta":    map[string]interface{}{"count": float64(3)},
		"status":  "draft",
	}
	if _, err := v.Validate(ok); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := map[string]interface{}{
		"name":   12345,
		"status": "archived",
	}
	_, err := v.Validate(bad)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// missing content, wrong name type, bad enum
	if len(ve.Violations) != 3 {
		t.Fatalf("violations = %v", ve.Violations)
	}
}

func TestValidatePartialSkipsRequired(t *testing.T) {
	v := New(Rules{
		Required: []string{"name", "content"},
		MaxLen:   map[string]int{"content": 5},
	})
	// a patch omitting required fields passes
	if _, err := v.ValidatePartial(map[string]interface{}{"content": "abc"}); err != nil {
		t.Fatalf("ValidatePartial: %v", err)
	}
	// but other rules still apply
	if _, err := v.ValidatePartial(map[string]interface{}{"content": "too long"}); err == nil {
		t.Fatalf("expected max-length violation")
	}
}

func TestZeroValidatorAcceptsAnything(t *testing.T) {
	var v Validator
	if _, err := v.Validate(map[string]interface{}{"anything": true}); err != nil {
		t.Fatalf("zero validator rejected: %v", err)
	}
}

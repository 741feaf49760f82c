// Package validation implements the rule-based document validator injected
// into the repository facade. Rules address fields by dotted path into the
// document map.
package validation

import (
	"fmt"
	"strings"
)

// Rules configures a Validator.
type Rules struct {
	Required []string
	Types    map[string]string // path -> string|number|boolean|object|array
	MaxLen   map[string]int
	Enums    map[string][]string
}

// Validator checks documents against its rules. The zero value accepts
// everything.
type Validator struct {
	rules Rules
}

// New returns a validator for the given rules.
func New(rules Rules) *Validator {
	return &Validator{rules: rules}
}

// ValidationError carries every rule violation found in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// Validate checks a full document and returns it unchanged on success.
func (v *Validator) Validate(data map[string]interface{}) (map[string]interface{}, error) {
	return v.check(data, true)
}

// ValidatePartial checks an update patch: required-field rules are skipped
// because a patch legitimately omits fields it does not touch.
func (v *Validator) ValidatePartial(data map[string]interface{}) (map[string]interface{}, error) {
	return v.check(data, false)
}

func (v *Validator) check(data map[string]interface{}, full bool) (map[string]interface{}, error) {
	var violations []string
	if full {
		for _, p := range v.rules.Required {
			if !existsAt(data, p) {
				violations = append(violations, fmt.Sprintf("required path missing: %s", p))
			}
		}
	}
	for p, t := range v.rules.Types {
		if val, ok := valueAt(data, p); ok {
			if !typeMatches(val, t) {
				violations = append(violations, fmt.Sprintf("type mismatch at %s: expected %s", p, t))
			}
		}
	}
	for p, max := range v.rules.MaxLen {
		if val, ok := valueAt(data, p); ok {
			if s, isStr := val.(string); isStr && len(s) > max {
				violations = append(violations, fmt.Sprintf("value at %s exceeds max length %d", p, max))
			}
		}
	}
	for p, allowed := range v.rules.Enums {
		if val, ok := valueAt(data, p); ok {
			s, isStr := val.(string)
			if !isStr || !contains(allowed, s) {
				violations = append(violations, fmt.Sprintf("value at %s not in enum %v", p, allowed))
			}
		}
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return data, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func valueAt(root map[string]interface{}, path string) (interface{}, bool) {
	cur := interface{}(root)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func existsAt(root map[string]interface{}, path string) bool {
	_, ok := valueAt(root, path)
	return ok
}

func typeMatches(v interface{}, t string) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	}
	return false
}

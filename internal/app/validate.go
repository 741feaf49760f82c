package app

import (
	"fmt"

	"stratadb/pkg/config"
	"stratadb/pkg/validation"
)

var knownObjectTypes = map[string]bool{
	"":         true, // defaults to no-expiry content semantics
	"config":   true,
	"settings": true,
	"state":    true,
	"content":  true,
}

// validateConfig fails fast on configuration the server cannot honor.
func validateConfig(cfg *config.Config) error {
	seen := map[string]bool{}
	for _, spec := range cfg.Collections {
		if spec.Domain == "" || spec.App == "" || spec.Name == "" {
			return fmt.Errorf("collection spec needs domain, app and name: %+v", spec)
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate collection name: %s", spec.Name)
		}
		seen[spec.Name] = true
		if !knownObjectTypes[spec.ObjectType] {
			return fmt.Errorf("collection %s: unknown object_type %q", spec.Name, spec.ObjectType)
		}
		for _, t := range spec.Validation.Types {
			switch t.Type {
			case "string", "number", "boolean", "object", "array":
			default:
				return fmt.Errorf("collection %s: unknown validation type %q at %s", spec.Name, t.Type, t.Path)
			}
		}
	}
	return nil
}

// validatorFor builds the validator from a collection's validation spec.
func validatorFor(spec config.CollectionSpec) *validation.Validator {
	return validation.New(spec.Validation.Rules())
}

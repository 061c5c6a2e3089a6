// Package validation applies operator-configurable payload rules to
// incoming sends before the log layer sees them. Rules address fields by
// dotted path into the decoded JSON payload, so deployments can tighten
// limits (content length, allowed types, required attachment fields)
// without a code change.
package validation

import (
	"fmt"
	"strconv"
	"strings"

	"campuschat/pkg/apperr"
)

// Rules is the configured rule set. Zero value accepts everything.
type Rules struct {
	Required []string
	Types    map[string]string
	MaxLen   map[string]int
	Enums    map[string][]string
}

var rules Rules

// SetRules installs the active rule set. Called once at startup from
// config; not safe to call concurrently with validation.
func SetRules(r Rules) { rules = r }

// ValidateSend checks a decoded send payload against the active rules and
// returns a validation_failed error naming every violated rule at once.
func ValidateSend(payload map[string]interface{}) error {
	var errs []string

	for _, p := range rules.Required {
		if !existsAt(payload, p) {
			errs = append(errs, fmt.Sprintf("required field missing: %s", p))
		}
	}
	for p, t := range rules.Types {
		if v, ok := valueAt(payload, p); ok && !typeMatches(v, t) {
			errs = append(errs, fmt.Sprintf("type mismatch at %s: expected %s", p, t))
		}
	}
	for p, max := range rules.MaxLen {
		v, ok := valueAt(payload, p)
		if !ok {
			continue
		}
		switch vv := v.(type) {
		case string:
			if len(vv) > max {
				errs = append(errs, fmt.Sprintf("max length exceeded at %s: %d > %d", p, len(vv), max))
			}
		case []interface{}:
			if len(vv) > max {
				errs = append(errs, fmt.Sprintf("max length exceeded at %s: %d > %d", p, len(vv), max))
			}
		}
	}
	for p, allowed := range rules.Enums {
		if v, ok := valueAt(payload, p); ok {
			if s, isStr := v.(string); isStr && !contains(allowed, s) {
				errs = append(errs, fmt.Sprintf("value not allowed at %s", p))
			}
		}
	}

	if len(errs) > 0 {
		return apperr.Validation(strings.Join(errs, "; "))
	}
	return nil
}

func existsAt(root interface{}, path string) bool {
	_, ok := valueAt(root, path)
	return ok
}

// valueAt walks a dotted path. Array segments accept an index or "*"
// (first element).
func valueAt(root interface{}, path string) (interface{}, bool) {
	cur := root
	for _, s := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[s]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			if s == "*" {
				if len(node) == 0 {
					return nil, false
				}
				cur = node[0]
			} else if idx, err := strconv.Atoi(s); err == nil {
				if idx < 0 || idx >= len(node) {
					return nil, false
				}
				cur = node[idx]
			} else {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, true
}

func typeMatches(v interface{}, t string) bool {
	switch strings.ToLower(t) {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case int, int64, float64:
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
	return true
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

package service

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
)

// Params is a validated request parameter set.
type Params map[string]any

// ParamRule describes the accepted parameter set of one operation.
type ParamRule struct {
	// Required keys must carry a value.
	Required []string
	// Blankable lists required keys whose key must be sent but whose value
	// may be "". An agent that has not generated a certificate yet registers
	// with an empty certname.
	Blankable []string
	// Optional keys are passed through when they carry a value.
	Optional []string
}

var (
	RegisterRule = ParamRule{
		Required:  []string{"name", "certname", "environment_id", "hostgroup_id"},
		Blankable: []string{"certname"},
		Optional:  []string{"comment", "mac"},
	}
	DecommissionRule = ParamRule{Required: []string{"name"}}
	ResetRule        = ParamRule{Required: []string{"name", "login"}}
	StatusRule       = ParamRule{Required: []string{"certname"}}
	LookupRule       = ParamRule{Required: []string{"name"}}
)

// ValidateParams keeps only the keys rule names and checks that every
// required key carries a value. String values are trimmed. nil, blank
// strings and empty slices or maps count as absent; numbers, including 0,
// never do. On failure the returned *model.ValidationError holds the
// filtered partial set.
func ValidateParams(raw map[string]any, rule ParamRule) (Params, error) {
	filtered := make(Params, len(rule.Required)+len(rule.Optional))
	for _, k := range rule.Required {
		v, ok := raw[k]
		if !ok {
			continue
		}
		v = trim(v)
		if present(v) {
			filtered[k] = v
		} else if contains(rule.Blankable, k) && (v == nil || v == "") {
			filtered[k] = ""
		}
	}
	for _, k := range rule.Optional {
		if v, ok := raw[k]; ok {
			if v = trim(v); present(v) {
				filtered[k] = v
			}
		}
	}

	var missing []string
	for _, k := range rule.Required {
		if _, ok := filtered[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, &model.ValidationError{Missing: missing, Params: filtered}
	}
	return filtered, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func trim(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}

func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// String returns the parameter as a string, or "" when absent.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the parameter as an integer. JSON numbers, Go integers and
// numeric strings are accepted.
func (p Params) Int64(key string) (int64, error) {
	switch v := p[key].(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}

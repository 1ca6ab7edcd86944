package cucumber

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// Pipes transform a resolved value; ${x | name} applies Pipes[name].
var Pipes = map[string]func(any) (any, error){
	"json": func(v any) (any, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return string(data) + "\n", nil
	},
	"json_escape": func(v any) (any, error) {
		data, err := json.Marshal(fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		return string(data[1 : len(data)-1]), nil
	},
	"string": func(v any) (any, error) {
		return fmt.Sprint(v), nil
	},
	"sha256": func(v any) (any, error) {
		sum := sha256.Sum256([]byte(fmt.Sprint(v)))
		return hex.EncodeToString(sum[:]), nil
	},
}

// Expand substitutes every ${...} reference in value.
func (s *TestScenario) Expand(value string) (string, error) {
	var firstErr error
	out := os.Expand(value, func(ref string) string {
		str, err := s.ResolveString(ref)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return str
	})
	return out, firstErr
}

func (s *TestScenario) ResolveString(ref string) (string, error) {
	v, err := s.Resolve(ref)
	if err != nil {
		return "", err
	}
	return stringify(v)
}

// Resolve evaluates a reference, then runs it through its pipes left to right.
func (s *TestScenario) Resolve(ref string) (any, error) {
	parts := strings.Split(ref, "|")
	v, err := s.lookup(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}
	for _, name := range parts[1:] {
		name = strings.TrimSpace(name)
		pipe, ok := Pipes[name]
		if !ok {
			return nil, fmt.Errorf("unknown pipe: %s", name)
		}
		if v, err = pipe(v); err != nil {
			return nil, fmt.Errorf("pipe %s: %w", name, err)
		}
	}
	return v, nil
}

func (s *TestScenario) lookup(name string) (any, error) {
	switch {
	case len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`):
		return name[1 : len(name)-1], nil
	case name == "session":
		return s.User().SessionID, nil
	case name == "response":
		return s.Session().RespJSON()
	case strings.HasPrefix(name, "response.") || strings.HasPrefix(name, "response["):
		doc, err := s.Session().RespJSON()
		if err != nil {
			return nil, err
		}
		return selectFirst(name[len("response"):], doc)
	}

	path := strings.Split(name, ".")
	v, ok := s.Variables[path[0]]
	if !ok {
		return nil, fmt.Errorf("variable ${%s} not defined yet", path[0])
	}
	for _, field := range path[1:] {
		var err error
		if v, err = child(v, field); err != nil {
			return nil, fmt.Errorf("${%s}: %w", name, err)
		}
	}
	return v, nil
}

// child steps one level into a map, slice or struct.
func child(v any, field string) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map keys of %s are not strings", rv.Type())
		}
		out := rv.MapIndex(reflect.ValueOf(field).Convert(rv.Type().Key()))
		if !out.IsValid() {
			return nil, fmt.Errorf("no key %q", field)
		}
		return out.Interface(), nil
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(field)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, fmt.Errorf("no index %q in a list of %d", field, rv.Len())
		}
		return rv.Index(i).Interface(), nil
	case reflect.Struct:
		out := rv.FieldByName(field)
		if !out.IsValid() {
			return nil, fmt.Errorf("no field %q in %s", field, rv.Type())
		}
		return out.Interface(), nil
	case reflect.Invalid:
		return nil, fmt.Errorf("no %q in a null value", field)
	}
	return nil, fmt.Errorf("cannot select %q from %s", field, rv.Type())
}

// stringify renders scalars bare and everything else as indented JSON.
func stringify(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

package cucumber

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

// RespJSON parses the last response body, caching the result until the next request.
func (s *TestSession) RespJSON() (interface{}, error) {
	if s.respJSON != nil {
		return s.respJSON, nil
	}
	if len(s.RespBytes) == 0 {
		return nil, fmt.Errorf("no response body")
	}
	if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
		return nil, fmt.Errorf("response is not json: %w\n%s", err, s.RespBytes)
	}
	return s.respJSON, nil
}

// selectFirst returns the first value the gojq query yields for doc.
func selectFirst(query string, doc any) (any, error) {
	q, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("bad selector %q: %w", query, err)
	}
	v, ok := q.Run(doc).Next()
	if !ok {
		return nil, fmt.Errorf("selector %q matched nothing", query)
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("selector %q: %w", query, err)
	}
	return v, nil
}

func parseBoth(s *TestScenario, actual, expected string, expand bool) (any, any, error) {
	var got any
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		return nil, nil, fmt.Errorf("actual is not json: %w\n%s", err, actual)
	}
	if expand {
		var err error
		if expected, err = s.Expand(expected); err != nil {
			return nil, nil, err
		}
	}
	if strings.TrimSpace(expected) == "" {
		return nil, nil, fmt.Errorf("no expected json given; actual was:\n%s", actual)
	}
	var want any
	if err := json.Unmarshal([]byte(expected), &want); err != nil {
		return nil, nil, fmt.Errorf("expected is not json: %w\n%s", err, expected)
	}
	return got, want, nil
}

// JSONMustMatch requires actual and expected to be the same JSON value.
func (s *TestScenario) JSONMustMatch(actual, expected string, expand bool) error {
	got, want, err := parseBoth(s, actual, expected, expand)
	if err != nil {
		return err
	}
	if diff := cmp.Diff(want, got); diff != "" {
		return fmt.Errorf("json mismatch (-expected +actual):\n%s", diff)
	}
	return nil
}

// JSONMustContain requires every key in expected to be present in actual with a
// matching value. Arrays must have equal length; their elements compare the same way.
func (s *TestScenario) JSONMustContain(actual, expected string, expand bool) error {
	got, want, err := parseBoth(s, actual, expected, expand)
	if err != nil {
		return err
	}
	if err := subset(want, got, "$"); err != nil {
		pretty, _ := json.MarshalIndent(got, "", "  ")
		return fmt.Errorf("%w\nactual:\n%s", err, pretty)
	}
	return nil
}

func subset(want, got any, at string) error {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return fmt.Errorf("at %s: expected an object, got %T", at, got)
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok {
				return fmt.Errorf("at %s: missing key %q", at, k)
			}
			if err := subset(wv, gv, at+"."+k); err != nil {
				return err
			}
		}
		return nil
	case []any:
		g, ok := got.([]any)
		if !ok {
			return fmt.Errorf("at %s: expected an array, got %T", at, got)
		}
		if len(w) != len(g) {
			return fmt.Errorf("at %s: expected %d elements, got %d", at, len(w), len(g))
		}
		for i := range w {
			if err := subset(w[i], g[i], fmt.Sprintf("%s[%d]", at, i)); err != nil {
				return err
			}
		}
		return nil
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("at %s: expected %v, got %v", at, want, got)
	}
	return nil
}

// textMustMatch compares two strings and shows a unified diff when they differ.
func textMustMatch(expected, actual string) error {
	if expected == actual {
		return nil
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return fmt.Errorf("text mismatch:\n%s", diff)
}

package cucumber

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSON)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContain)
		ctx.Step(`^the response should match:$`, s.theResponseShouldMatchText)
		ctx.Step(`^the response header "([^"]*)" should match "([^"]*)"$`, s.theResponseHeaderShouldMatch)
		ctx.Step(`^the "(.*)" selection from the response should match "([^"]*)"$`, s.theSelectionShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should match json:$`, s.theSelectionShouldMatchJSON)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionAs)
		ctx.Step(`^\${([^}]*)} is not empty$`, s.variableIsNotEmpty)
		ctx.Step(`^\${([^}]*)} should contain json:$`, s.theVariableShouldContainJSON)
		ctx.Step(`^\${([^}]*)} should match:$`, s.theVariableShouldMatchText)
	})
}

// response returns the current session once a request has been made.
func (s *TestScenario) response() (*TestSession, error) {
	sess := s.Session()
	if sess.Resp == nil {
		return nil, fmt.Errorf("no request has been made yet")
	}
	return sess, nil
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	sess, err := s.response()
	if err != nil {
		return err
	}
	if sess.Resp.StatusCode != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, sess.Resp.StatusCode, sess.RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchJSON(doc *godog.DocString) error {
	sess, err := s.response()
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(sess.RespBytes), doc.Content, true)
}

func (s *TestScenario) theResponseShouldContainJSON(doc *godog.DocString) error {
	sess, err := s.response()
	if err != nil {
		return err
	}
	return s.JSONMustContain(string(sess.RespBytes), doc.Content, true)
}

func (s *TestScenario) theResponseShouldContain(text string) error {
	sess, err := s.response()
	if err != nil {
		return err
	}
	if text, err = s.Expand(text); err != nil {
		return err
	}
	if !strings.Contains(string(sess.RespBytes), text) {
		return fmt.Errorf("response does not contain %q: %s", text, sess.RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchText(doc *godog.DocString) error {
	sess, err := s.response()
	if err != nil {
		return err
	}
	expected, err := s.Expand(doc.Content)
	if err != nil {
		return err
	}
	return textMustMatch(expected, string(sess.RespBytes))
}

func (s *TestScenario) theResponseHeaderShouldMatch(name, expected string) error {
	sess, err := s.response()
	if err != nil {
		return err
	}
	if expected, err = s.Expand(expected); err != nil {
		return err
	}
	if actual := sess.Resp.Header.Get(name); actual != expected {
		return fmt.Errorf("header %s: expected %q, got %q", name, expected, actual)
	}
	return nil
}

func (s *TestScenario) selection(selector string) (any, error) {
	sess, err := s.response()
	if err != nil {
		return nil, err
	}
	doc, err := sess.RespJSON()
	if err != nil {
		return nil, err
	}
	return selectFirst(selector, doc)
}

func (s *TestScenario) theSelectionShouldMatch(selector, expected string) error {
	v, err := s.selection(selector)
	if err != nil {
		return err
	}
	if expected, err = s.Expand(expected); err != nil {
		return err
	}
	actual := "null"
	if v != nil {
		if actual, err = stringify(v); err != nil {
			return err
		}
	}
	if actual != expected {
		return fmt.Errorf("%s: expected %q, got %q", selector, expected, actual)
	}
	return nil
}

func (s *TestScenario) theSelectionShouldMatchJSON(selector string, doc *godog.DocString) error {
	v, err := s.selection(selector)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(data), doc.Content, true)
}

func (s *TestScenario) iStoreTheSelectionAs(selector, name string) error {
	v, err := s.selection(selector)
	if err != nil {
		return err
	}
	s.Variables[name] = v
	return nil
}

func (s *TestScenario) variableIsNotEmpty(name string) error {
	v, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if v == nil || v == "" {
		return fmt.Errorf("${%s} is empty", name)
	}
	return nil
}

func (s *TestScenario) theVariableShouldContainJSON(name string, doc *godog.DocString) error {
	v, err := s.Resolve(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.JSONMustContain(string(data), doc.Content, true)
}

func (s *TestScenario) theVariableShouldMatchText(name string, doc *godog.DocString) error {
	actual, err := s.ResolveString(name)
	if err != nil {
		return err
	}
	expected, err := s.Expand(doc.Content)
	if err != nil {
		return err
	}
	return textMustMatch(expected, actual)
}

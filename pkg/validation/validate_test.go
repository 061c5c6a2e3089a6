package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"campuschat/pkg/apperr"
)

func payload(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	return m
}

func withRules(t *testing.T, r Rules) {
	t.Helper()
	SetRules(r)
	t.Cleanup(func() { SetRules(Rules{}) })
}

func TestZeroRulesAcceptEverything(t *testing.T) {
	withRules(t, Rules{})
	if err := ValidateSend(payload(t, `{"anything":1}`)); err != nil {
		t.Fatalf("zero rules rejected: %v", err)
	}
}

func TestRequired(t *testing.T) {
	withRules(t, Rules{Required: []string{"content"}})
	if err := ValidateSend(payload(t, `{"content":"hi"}`)); err != nil {
		t.Fatalf("present field rejected: %v", err)
	}
	err := ValidateSend(payload(t, `{"type":"text"}`))
	if !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("missing field: got %v", err)
	}
	if !strings.Contains(err.Error(), "content") {
		t.Fatalf("error does not name the field: %v", err)
	}
}

func TestTypes(t *testing.T) {
	withRules(t, Rules{Types: map[string]string{"content": "string", "priority": "number"}})
	if err := ValidateSend(payload(t, `{"content":"hi","priority":3}`)); err != nil {
		t.Fatalf("matching types rejected: %v", err)
	}
	if err := ValidateSend(payload(t, `{"content":42}`)); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("type mismatch: got %v", err)
	}
	// absent fields pass type checks
	if err := ValidateSend(payload(t, `{}`)); err != nil {
		t.Fatalf("absent field failed type check: %v", err)
	}
}

func TestMaxLen(t *testing.T) {
	withRules(t, Rules{MaxLen: map[string]int{"content": 5, "attachments": 1}})
	if err := ValidateSend(payload(t, `{"content":"short"}`)); err != nil {
		t.Fatalf("within limit rejected: %v", err)
	}
	if err := ValidateSend(payload(t, `{"content":"toolong"}`)); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("over limit: got %v", err)
	}
	// array limits count elements
	if err := ValidateSend(payload(t, `{"attachments":[{},{}]}`)); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("too many attachments: got %v", err)
	}
}

func TestEnums(t *testing.T) {
	withRules(t, Rules{Enums: map[string][]string{"type": {"text", "image"}}})
	if err := ValidateSend(payload(t, `{"type":"text"}`)); err != nil {
		t.Fatalf("allowed value rejected: %v", err)
	}
	if err := ValidateSend(payload(t, `{"type":"video"}`)); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("disallowed value: got %v", err)
	}
}

func TestDottedPaths(t *testing.T) {
	withRules(t, Rules{
		Required: []string{"attachments.*.storage_ref", "attachments.0.filename"},
		Types:    map[string]string{"attachments.*.size": "number"},
	})
	ok := `{"attachments":[{"storage_ref":"s/1","filename":"a.pdf","size":10}]}`
	if err := ValidateSend(payload(t, ok)); err != nil {
		t.Fatalf("valid nested payload rejected: %v", err)
	}
	bad := `{"attachments":[{"filename":"a.pdf","size":"ten"}]}`
	err := ValidateSend(payload(t, bad))
	if !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("nested violations: got %v", err)
	}
	// every violated rule is named at once
	if !strings.Contains(err.Error(), "storage_ref") || !strings.Contains(err.Error(), "size") {
		t.Fatalf("error missing violations: %v", err)
	}
}

func TestEmptyArrayPath(t *testing.T) {
	withRules(t, Rules{Required: []string{"attachments.*.storage_ref"}})
	if err := ValidateSend(payload(t, `{"attachments":[]}`)); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("empty array satisfied a required path: got %v", err)
	}
}

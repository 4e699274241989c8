package schedule

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/vtkrishna/kypseli/internal/registry"
)

func TestParseCron(t *testing.T) {
	s, err := Parse(`{"kind":"cron","cron_expr":"0 9 * * *"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Kind != KindCron || s.CronExpr != "0 9 * * *" {
		t.Errorf("unexpected spec: %+v", s)
	}
}

func TestNextCron(t *testing.T) {
	s := &Spec{Kind: KindCron, CronExpr: "0 9 * * *"}
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	next := s.Next(now)
	if next == nil {
		t.Fatal("expected a next run")
	}
	want := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextInterval(t *testing.T) {
	s := &Spec{Kind: KindInterval, IntervalMs: 60000}
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	next := s.Next(now)
	if next == nil {
		t.Fatal("expected a next run")
	}
	if !next.Equal(now.Add(time.Minute)) {
		t.Errorf("next = %v, want one minute after now", next)
	}
}

func TestNextOnce(t *testing.T) {
	now := time.Now()
	future := &Spec{Kind: KindOnce, AtMs: now.Add(time.Hour).UnixMilli()}
	if future.Next(now) == nil {
		t.Error("expected a next run for a future once spec")
	}

	past := &Spec{Kind: KindOnce, AtMs: now.Add(-time.Hour).UnixMilli()}
	if past.Next(now) != nil {
		t.Error("expected nil for an exhausted once spec")
	}
}

func TestNextUnknownKind(t *testing.T) {
	s := &Spec{Kind: "bogus"}
	if s.Next(time.Now()) != nil {
		t.Error("expected nil for unknown kind")
	}
}

func TestNextRunInvalidJSON(t *testing.T) {
	if NextRun(`not json`) != nil {
		t.Error("expected nil for invalid schedule")
	}
}

func TestNormalizePlainCron(t *testing.T) {
	result, err := Normalize("0 9 * * *")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s, err := Parse(result)
	if err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if s.Kind != KindCron || s.CronExpr != "0 9 * * *" {
		t.Errorf("unexpected spec: %+v", s)
	}
}

func TestNormalizeDuration(t *testing.T) {
	result, err := Normalize("5m")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s, err := Parse(result)
	if err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if s.Kind != KindInterval || s.IntervalMs != 300000 {
		t.Errorf("unexpected spec: %+v", s)
	}
}

func TestNormalizePassthroughJSON(t *testing.T) {
	input := `{"kind":"interval","interval_ms":300000}`
	result, err := Normalize(input)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if result != input {
		t.Errorf("expected passthrough, got %s", result)
	}
}

func TestNormalizeOnceJSON(t *testing.T) {
	input := fmt.Sprintf(`{"kind":"once","at_ms":%d}`, time.Now().Add(time.Hour).UnixMilli())
	if _, err := Normalize(input); err != nil {
		t.Fatalf("normalize: %v", err)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	cases := []string{
		"not a cron",
		`{"kind":"cron","cron_expr":"bad"}`,
		`{"kind":"interval","interval_ms":0}`,
		`{"kind":"once","at_ms":0}`,
		`{"kind":"bogus"}`,
		"-5m",
	}
	for _, raw := range cases {
		if _, err := Normalize(raw); err == nil {
			t.Errorf("Normalize(%q) accepted invalid input", raw)
		}
	}
}

func TestNormalizeTrimsWhitespace(t *testing.T) {
	result, err := Normalize("  */5 * * * *  ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s, err := Parse(result)
	if err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if s.CronExpr != "*/5 * * * *" {
		t.Errorf("expected trimmed cron, got %q", s.CronExpr)
	}
}

func TestParseTemplate(t *testing.T) {
	raw := json.RawMessage(`{
		"name": "nightly-review",
		"topology": "hybrid",
		"pattern": "pipeline",
		"task": "review the day's changes",
		"agents": [{"type": "reviewer", "role": "worker"}]
	}`)
	tpl, err := ParseTemplate(raw)
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	if tpl.Pattern != "pipeline" || len(tpl.Agents) != 1 {
		t.Errorf("unexpected template: %+v", tpl)
	}
	if tpl.Agents[0].Role != registry.RoleWorker {
		t.Errorf("role = %q, want worker", tpl.Agents[0].Role)
	}
}

func TestParseTemplateRejectsIncomplete(t *testing.T) {
	if _, err := ParseTemplate(json.RawMessage(`{"name":"x","agents":[{"type":"a"}]}`)); err == nil {
		t.Error("expected error for a template without a pattern")
	}
	if _, err := ParseTemplate(json.RawMessage(`{"name":"x","pattern":"pipeline"}`)); err == nil {
		t.Error("expected error for a template without agents")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(`{"kind":"cron","cron_expr":"0 9 * * *"}`); got != "cron 0 9 * * *" {
		t.Errorf("Describe cron = %q", got)
	}
	if got := Describe(`{"kind":"interval","interval_ms":300000}`); got != "every 5m0s" {
		t.Errorf("Describe interval = %q", got)
	}
	if got := Describe("junk"); got != "junk" {
		t.Errorf("Describe junk = %q", got)
	}
}

// Package schedule parses and evaluates the timing specs that drive
// recurring workflow runs, plus the workflow template a due schedule
// materializes.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/vtkrishna/kypseli/internal/registry"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

// Spec is the timing half of a schedule, stored as a JSON string.
type Spec struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

// Template describes the workflow a due schedule creates and runs.
type Template struct {
	Name     string          `json:"name"`
	Topology string          `json:"topology"`
	Pattern  string          `json:"pattern"`
	Task     string          `json:"task"`
	Agents   []registry.Spec `json:"agents"`
}

func Parse(raw string) (*Spec, error) {
	var s Spec
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func ParseTemplate(raw json.RawMessage) (*Template, error) {
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	if t.Pattern == "" {
		return nil, fmt.Errorf("workflow template needs a pattern")
	}
	if len(t.Agents) == 0 {
		return nil, fmt.Errorf("workflow template needs at least one agent")
	}
	return &t, nil
}

// Next computes the run time after now, or nil when the spec will never
// fire again (exhausted once schedules, invalid expressions).
func (s *Spec) Next(now time.Time) *time.Time {
	var next time.Time
	switch s.Kind {
	case KindCron:
		tick, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		next = tick
	case KindInterval:
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		at := time.UnixMilli(s.AtMs)
		if !at.After(now) {
			return nil
		}
		next = at
	default:
		return nil
	}
	return &next
}

// NextRun parses raw and evaluates it against the current time.
func NextRun(raw string) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}
	return s.Next(time.Now())
}

// Normalize accepts a spec in any of three surface forms and returns the
// canonical JSON string: spec JSON is validated and passed through, a Go
// duration ("30s", "5m") becomes an interval, anything else must be a
// valid cron expression.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Spec
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		if err := s.validate(); err != nil {
			return "", err
		}
		return raw, nil
	}

	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return "", fmt.Errorf("interval must be positive: %s", raw)
		}
		return marshalSpec(Spec{Kind: KindInterval, IntervalMs: d.Milliseconds()})
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not spec JSON, a duration, or a cron expression: %s", raw)
	}
	return marshalSpec(Spec{Kind: KindCron, CronExpr: raw})
}

func (s *Spec) validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs <= 0 {
			return fmt.Errorf("interval_ms must be positive")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return nil
}

func marshalSpec(s Spec) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Describe renders a spec JSON string for humans; invalid input comes
// back unchanged.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}
	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		return "every " + (time.Duration(s.IntervalMs) * time.Millisecond).String()
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	default:
		return raw
	}
}

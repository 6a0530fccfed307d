// Package health turns health signals into remediation. A pull signal is a
// structured report (overall plus per-subsystem status); a push signal is a
// monitoring alert. The Router matches a signal against configured routes,
// runs the matching playbooks in order, and escalates to a task executor
// when none of them resolves the problem.
package health

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is a traffic-light health level.
type Status string

// Health levels.
const (
	Green  Status = "GREEN"
	Yellow Status = "YELLOW"
	Red    Status = "RED"
)

// ParseStatus normalizes s. Unknown values are an error.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case Green, Yellow, Red:
		return st, nil
	}
	return "", fmt.Errorf("unknown health status %q", s)
}

func (s Status) severity() int {
	switch s {
	case Red:
		return 2
	case Yellow:
		return 1
	}
	return 0
}

// Worse returns the more severe of a and b.
func Worse(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	if a == "" {
		return Green
	}
	return a
}

// Problem names used in findings and escalations.
const (
	ProblemUnreachable = "service_unreachable"
	ProblemDegraded    = "service_degraded"
	ProblemAlert       = "alert"
)

// Subsystem is the health of one component in a pull report.
type Subsystem struct {
	Status  Status `json:"status"`
	Problem string `json:"problem,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Report is a pull-mode health signal.
type Report struct {
	CheckedAt  time.Time            `json:"checked_at"`
	Overall    Status               `json:"overall"`
	Subsystems map[string]Subsystem `json:"subsystems"`
}

// ParseReport decodes a JSON health report, normalizing status case.
func ParseReport(data []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("decode health report: %w", err)
	}
	overall, err := ParseStatus(string(r.Overall))
	if err != nil {
		return Report{}, err
	}
	r.Overall = overall
	for name, sub := range r.Subsystems {
		st, err := ParseStatus(string(sub.Status))
		if err != nil {
			return Report{}, fmt.Errorf("subsystem %s: %w", name, err)
		}
		sub.Status = st
		r.Subsystems[name] = sub
	}
	return r, nil
}

// Alert is a push-mode health signal.
type Alert struct {
	Rule string `json:"alert_rule"`
	Raw  string `json:"raw,omitempty"`
}

// Signal carries exactly one of Report or Alert.
type Signal struct {
	Report *Report `json:"report,omitempty"`
	Alert  *Alert  `json:"alert,omitempty"`
}

// PullSignal wraps a report.
func PullSignal(r Report) Signal { return Signal{Report: &r} }

// PushSignal wraps an alert.
func PushSignal(a Alert) Signal { return Signal{Alert: &a} }

// Finding is one problem extracted from a signal: a non-green subsystem of
// a report, or an alert.
type Finding struct {
	Subsystem string `json:"subsystem,omitempty"`
	Status    Status `json:"status,omitempty"`
	Problem   string `json:"problem"`
	Detail    string `json:"detail,omitempty"`
	AlertRule string `json:"alert_rule,omitempty"`
}

// Findings returns the problems in s. Report findings are ordered RED
// before YELLOW, then by subsystem name. A report whose overall status is
// GREEN yields none.
func (s Signal) Findings() []Finding {
	switch {
	case s.Alert != nil:
		return []Finding{{Problem: ProblemAlert, Detail: s.Alert.Raw, AlertRule: s.Alert.Rule}}
	case s.Report == nil, s.Report.Overall == Green:
		return nil
	}
	var out []Finding
	for name, sub := range s.Report.Subsystems {
		if sub.Status.severity() == 0 {
			continue
		}
		problem := sub.Problem
		if problem == "" {
			problem = ProblemDegraded
		}
		out = append(out, Finding{Subsystem: name, Status: sub.Status, Problem: problem, Detail: sub.Detail})
	}
	if len(out) == 0 && s.Report.Overall.severity() > 0 {
		out = append(out, Finding{Status: s.Report.Overall, Problem: ProblemDegraded, Detail: "overall status without subsystem detail"})
	}
	sort.Slice(out, func(i, j int) bool {
		if si, sj := out[i].Status.severity(), out[j].Status.severity(); si != sj {
			return si > sj
		}
		return out[i].Subsystem < out[j].Subsystem
	})
	return out
}

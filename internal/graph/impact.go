package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Impact analysis depths: upstream reach matters more (it is code that
// depends on the edit), so it is walked one level deeper.
const (
	impactUpstreamDepth   = 4
	impactDownstreamDepth = 3
)

// Risk thresholds for the 2·incoming + outgoing + edits metric.
const (
	riskMediumAt = 8
	riskHighAt   = 25
)

// ImpactReport summarizes the blast radius of a proposed edit set. It is
// advisory: it decorates the edit response but never blocks a transaction
// unless the caller asked for require_low_risk.
type ImpactReport struct {
	Incoming   []string `json:"incoming"`
	Outgoing   []string `json:"outgoing"`
	RiskMetric int      `json:"risk_metric"`
	RiskLevel  string   `json:"risk_level"`
	Tests      []string `json:"tests,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Analyze computes upstream/downstream transitive reach for the edited
// files and derives the coarse risk classification.
func (g *Graph) Analyze(ctx context.Context, editedFiles []string, editCount int) (*ImpactReport, error) {
	var incoming, outgoing []string
	for _, f := range editedFiles {
		up, err := g.Transitive(ctx, f, Upstream, impactUpstreamDepth)
		if err != nil {
			return nil, err
		}
		down, err := g.Transitive(ctx, f, Downstream, impactDownstreamDepth)
		if err != nil {
			return nil, err
		}
		incoming = append(incoming, up...)
		outgoing = append(outgoing, down...)
	}

	edited := lo.SliceToMap(editedFiles, func(f string) (string, bool) { return f, true })
	incoming = lo.Uniq(lo.Filter(incoming, func(p string, _ int) bool { return !edited[p] }))
	outgoing = lo.Uniq(lo.Filter(outgoing, func(p string, _ int) bool { return !edited[p] }))

	metric := 2*len(incoming) + len(outgoing) + editCount
	level := "low"
	switch {
	case metric >= riskHighAt:
		level = "high"
	case metric >= riskMediumAt:
		level = "medium"
	}

	report := &ImpactReport{
		Incoming:   incoming,
		Outgoing:   outgoing,
		RiskMetric: metric,
		RiskLevel:  level,
		Tests:      collectTests(append(append([]string{}, incoming...), editedFiles...)),
	}

	if level != "low" {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%d dependents reach the edited files; review the impact list before relying on this change", len(incoming)))
	}
	if len(report.Tests) == 0 && level == "high" {
		report.Warnings = append(report.Warnings, "no test files found near the affected paths")
	}

	return report, nil
}

// collectTests filters paths that look like test files, by the common
// naming and directory conventions.
func collectTests(paths []string) []string {
	return lo.Uniq(lo.Filter(paths, func(p string, _ int) bool { return IsTestPath(p) }))
}

// IsTestPath reports whether a path matches the recognized test patterns.
func IsTestPath(p string) bool {
	base := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		base = p[i+1:]
	}
	if strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") {
		return true
	}
	if strings.Contains(p, "__tests__/") {
		return true
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "tests" {
			return true
		}
	}
	return false
}

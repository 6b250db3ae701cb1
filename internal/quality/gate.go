// Package quality scores a delivered artifact and decides whether the customer
// is charged for it. Assess is a pure function of its inputs.
package quality

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"reelgen/internal/domain"
)

// DefaultPassThreshold is the minimum score a billable artifact must reach.
const DefaultPassThreshold = 0.5

// Severity grades a detected issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CategoryArtifact  = "artifact"
	CategoryTransport = "transport"
	CategoryHost      = "host"
	CategoryDuration  = "duration"
	CategorySafety    = "safety"
	CategoryProvider  = "provider"
)

const (
	penaltyDurationCritical = 0.6
	penaltyDurationHigh     = 0.3
	penaltyDurationMedium   = 0.1
	penaltySafetyFlag       = 0.4
	penaltyProviderError    = 0.8
	penaltyInsecure         = 0.1
	penaltyUnknownHost      = 0.05
)

// Policy holds the tunable parts of the gate.
type Policy struct {
	PassThreshold float64
	// AllowedHosts lists artifact hosts considered trusted. Subdomains match.
	// An empty list disables the host check.
	AllowedHosts []string
}

// Input is everything observable about a delivered artifact.
type Input struct {
	ArtifactURL              string
	RequestedDurationSeconds float64
	// ActualDurationSeconds is zero when the provider did not report it.
	ActualDurationSeconds float64
	SafetyFlags           []string
	ProviderError         string
}

// Assessment is the gate's verdict.
type Assessment struct {
	Score  float64
	Issues []domain.QualityIssue
	Passed bool
}

// Reason summarizes the most severe issue for a failure record.
func (a Assessment) Reason() string {
	if len(a.Issues) == 0 {
		return fmt.Sprintf("quality score %.2f below threshold", a.Score)
	}
	worst := a.Issues[0]
	for _, issue := range a.Issues[1:] {
		if severityRank(Severity(issue.Severity)) > severityRank(Severity(worst.Severity)) {
			worst = issue
		}
	}
	return fmt.Sprintf("quality score %.2f below threshold: %s", a.Score, worst.Message)
}

// Err returns nil for a passing assessment and an error wrapping
// domain.ErrQualityBelowThreshold otherwise.
func (a Assessment) Err() error {
	if a.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrQualityBelowThreshold, a.Reason())
}

// Assess scores in against p. Issues are reported in a fixed order: artifact,
// transport and host, duration, safety, provider error.
func Assess(p Policy, in Input) Assessment {
	threshold := p.PassThreshold
	if threshold <= 0 {
		threshold = DefaultPassThreshold
	}

	score := 1.0
	forceZero := false
	var issues []domain.QualityIssue
	add := func(category string, sev Severity, penalty float64, format string, args ...any) {
		issues = append(issues, domain.QualityIssue{
			Category: category,
			Severity: string(sev),
			Message:  fmt.Sprintf(format, args...),
		})
		score -= penalty
	}

	u, ok := parseArtifactURL(in.ArtifactURL)
	if !ok {
		forceZero = true
		if strings.TrimSpace(in.ArtifactURL) == "" {
			add(CategoryArtifact, SeverityCritical, 0, "artifact reference missing")
		} else {
			add(CategoryArtifact, SeverityCritical, 0, "artifact reference unparseable")
		}
	} else {
		if u.Scheme != "https" {
			add(CategoryTransport, SeverityMedium, penaltyInsecure, "artifact served over %s", u.Scheme)
		}
		if len(p.AllowedHosts) > 0 && !hostAllowed(u.Hostname(), p.AllowedHosts) {
			add(CategoryHost, SeverityLow, penaltyUnknownHost, "artifact host %s not recognized", u.Hostname())
		}
	}

	if in.RequestedDurationSeconds > 0 && in.ActualDurationSeconds > 0 {
		ratio := in.ActualDurationSeconds / in.RequestedDurationSeconds
		switch {
		case ratio < 0.5:
			add(CategoryDuration, SeverityCritical, penaltyDurationCritical, "duration %.1fs is %.0f%% of requested %.1fs", in.ActualDurationSeconds, ratio*100, in.RequestedDurationSeconds)
		case ratio < 0.8:
			add(CategoryDuration, SeverityHigh, penaltyDurationHigh, "duration %.1fs is %.0f%% of requested %.1fs", in.ActualDurationSeconds, ratio*100, in.RequestedDurationSeconds)
		case ratio < 0.95:
			add(CategoryDuration, SeverityMedium, penaltyDurationMedium, "duration %.1fs is %.0f%% of requested %.1fs", in.ActualDurationSeconds, ratio*100, in.RequestedDurationSeconds)
		}
	}

	for _, flag := range in.SafetyFlags {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}
		add(CategorySafety, SeverityHigh, penaltySafetyFlag, "content safety flag: %s", flag)
	}

	if msg := strings.TrimSpace(in.ProviderError); msg != "" {
		add(CategoryProvider, SeverityCritical, penaltyProviderError, "provider reported error: %s", msg)
	}

	if forceZero {
		score = 0
	}
	score = clamp(score)
	return Assessment{Score: score, Issues: issues, Passed: score >= threshold}
}

func parseArtifactURL(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func clamp(score float64) float64 {
	score = math.Round(score*10000) / 10000
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

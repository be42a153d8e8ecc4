package classify

import (
	"regexp"
	"strings"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

// keyword groups in priority order; the first group with any hit wins
var severityGroups = []struct {
	severity domain.Severity
	keywords []string
}{
	{domain.SeverityCritical, []string{"panic", "oops", "fatal", "critical", "emerg"}},
	{domain.SeverityHigh, []string{"error", "fail", "segfault", "alert", "crit"}},
	{domain.SeverityMedium, []string{"warning", "warn"}},
}

// KeywordSeverity scans the case-folded line for severity keywords
func KeywordSeverity(line string) domain.Severity {
	lower := strings.ToLower(line)
	for _, g := range severityGroups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return g.severity
			}
		}
	}
	return domain.SeverityLow
}

// bracketLevelRe matches "[error]" (nginx) and "[core:error]" (apache 2.4)
var bracketLevelRe = regexp.MustCompile(`\[(?:[\w-]+:)?(emerg|alert|crit|error)\]`)

// bracketSeverity maps nginx/apache level tokens; ok is false when none is present.
// The most severe token on the line wins.
func bracketSeverity(line string) (domain.Severity, bool) {
	matches := bracketLevelRe.FindAllStringSubmatch(line, -1)
	if matches == nil {
		return domain.SeverityLow, false
	}
	sev := domain.SeverityLow
	for _, m := range matches {
		var s domain.Severity
		switch m[1] {
		case "emerg":
			s = domain.SeverityCritical
		case "alert", "crit":
			s = domain.SeverityHigh
		case "error":
			s = domain.SeverityMedium
		}
		if s > sev {
			sev = s
		}
	}
	return sev, true
}

// mysqlSeverity maps MySQL upper-case level words
func mysqlSeverity(line string) (domain.Severity, bool) {
	switch {
	case strings.Contains(line, "FATAL"):
		return domain.SeverityCritical, true
	case strings.Contains(line, "ERROR"):
		return domain.SeverityHigh, true
	}
	return domain.SeverityLow, false
}

func severityFor(kind domain.LogKind, line string) domain.Severity {
	switch kind {
	case domain.KindNginx, domain.KindApache:
		if s, ok := bracketSeverity(line); ok {
			return s
		}
	case domain.KindMySQL:
		if s, ok := mysqlSeverity(line); ok {
			return s
		}
	}
	return KeywordSeverity(line)
}

// DetermineCause applies the crash cause decision list to the case-folded line
func DetermineCause(line string) domain.Cause {
	l := strings.ToLower(line)
	has := func(s string) bool { return strings.Contains(l, s) }

	switch {
	case has("kernel") && (has("panic") || has("oops")):
		return domain.CauseKernelPanic
	case has("segfault"):
		return domain.CauseSegmentationFault
	case has("out of memory") || has("oom"):
		return domain.CauseOutOfMemory
	case has("hardware error") || has("machine check"):
		return domain.CauseHardwareError
	case has("filesystem") && has("error"):
		return domain.CauseFilesystemError
	case has("i/o error"):
		return domain.CauseIOError
	case has("network") && (has("unreachable") || has("refused")):
		return domain.CauseNetworkError
	case has("service") && has("failed"):
		return domain.CauseServiceFailure
	default:
		return domain.CauseUnknown
	}
}

package patterns

import "github.com/SteelMorgan/serverpulse-agent/internal/domain"

// DefaultCrashLogPaths are tailed by the crash detector when none are configured
var DefaultCrashLogPaths = []string{
	"/var/log/syslog",
	"/var/log/kern.log",
	"/var/log/messages",
}

// crashSpecs is ordered: kernel faults first, generic failures last
var crashSpecs = []Spec{
	// Kernel panics
	{Expr: `kernel:.*panic`, CauseTag: string(domain.CauseKernelPanic)},
	{Expr: `kernel:.*Oops`, CauseTag: string(domain.CauseKernelPanic)},
	{Expr: `kernel:.*BUG`, CauseTag: string(domain.CauseKernelPanic)},
	{Expr: `kernel:.*Call Trace`, CauseTag: string(domain.CauseKernelPanic)},

	// Segmentation faults
	{Expr: `segfault`, CauseTag: string(domain.CauseSegmentationFault)},
	{Expr: `general protection fault`, CauseTag: string(domain.CauseSegmentationFault)},

	// Out of memory
	{Expr: `Out of memory`, CauseTag: string(domain.CauseOutOfMemory)},
	{Expr: `oom-killer`, CauseTag: string(domain.CauseOutOfMemory)},
	{Expr: `Memory cgroup out of memory`, CauseTag: string(domain.CauseOutOfMemory)},

	// Hardware errors
	{Expr: `Machine check events logged`, CauseTag: string(domain.CauseHardwareError)},
	{Expr: `Hardware Error`, CauseTag: string(domain.CauseHardwareError)},
	{Expr: `EDAC.*error`, CauseTag: string(domain.CauseHardwareError)},

	// Service crashes
	{Expr: `service.*failed`, CauseTag: string(domain.CauseServiceFailure)},
	{Expr: `systemd.*failed`, CauseTag: string(domain.CauseServiceFailure)},
	{Expr: `crashed`},

	// Filesystem errors
	{Expr: `filesystem.*error`, CauseTag: string(domain.CauseFilesystemError)},
	{Expr: `I/O error`, CauseTag: string(domain.CauseIOError)},
	{Expr: `corruption`},

	// Network errors
	{Expr: `network.*unreachable`, CauseTag: string(domain.CauseNetworkError)},
	{Expr: `connection.*refused`, CauseTag: string(domain.CauseNetworkError)},
}

// CrashTable returns the built-in crash detection table
func CrashTable() *Table {
	return MustCompileSpecs(crashSpecs)
}

// bracketLevelExprs match nginx "[error]" and apache 2.4 "[core:error]" levels
var bracketLevelExprs = []string{
	`\[(?:[\w-]+:)?error\]`,
	`\[(?:[\w-]+:)?crit\]`,
	`\[(?:[\w-]+:)?alert\]`,
	`\[(?:[\w-]+:)?emerg\]`,
}

// DefaultSource is a built-in log monitor source before compilation
type DefaultSource struct {
	Path     string
	Kind     domain.LogKind
	Patterns []string
}

// DefaultLogSources are watched by the log monitor when no custom logs are configured
func DefaultLogSources() []DefaultSource {
	return []DefaultSource{
		{
			Path: "/var/log/auth.log",
			Kind: domain.KindAuth,
			Patterns: []string{
				`Failed password`,
				`Invalid user`,
				`authentication failure`,
			},
		},
		{
			Path:     "/var/log/nginx/error.log",
			Kind:     domain.KindNginx,
			Patterns: append([]string(nil), bracketLevelExprs...),
		},
		{
			Path:     "/var/log/apache2/error.log",
			Kind:     domain.KindApache,
			Patterns: append([]string(nil), bracketLevelExprs...),
		},
		{
			Path: "/var/log/mysql/error.log",
			Kind: domain.KindMySQL,
			Patterns: []string{
				`ERROR`,
				`FATAL`,
				`Aborted connection`,
			},
		},
	}
}

// DefaultPatternsFor returns built-in expressions for a kind, used when a
// configured custom log names a parser but no patterns
func DefaultPatternsFor(kind domain.LogKind) []string {
	if kind == domain.KindSyslog {
		exprs := make([]string, len(crashSpecs))
		for i, s := range crashSpecs {
			exprs[i] = s.Expr
		}
		return exprs
	}
	for _, s := range DefaultLogSources() {
		if s.Kind == kind {
			return s.Patterns
		}
	}
	return nil
}

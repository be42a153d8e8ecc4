package classify

import (
	"regexp"
	"time"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

// timestampPatterns are tried in order; the first hit is used verbatim
var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`),   // Dec 25 14:30:45
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})`),   // 2023-12-25T14:30:45
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2})`), // 2023-12-25 14:30:45
	regexp.MustCompile(`(\d{2}/\w{3}/\d{4}:\d{2}:\d{2}:\d{2})`),   // 25/Dec/2023:14:30:45
	regexp.MustCompile(`(\d{4}/\d{2}/\d{2}\s+\d{2}:\d{2}:\d{2})`), // 2023/12/25 14:30:45 (nginx)
}

// processPatterns yield name and pid; pidFirst marks "process 1234 (name)"
var processPatterns = []struct {
	re       *regexp.Regexp
	pidFirst bool
}{
	{re: regexp.MustCompile(`([\w.-]+)\[(\d+)\]`)},                                // sshd[123]
	{re: regexp.MustCompile(`(\w+):\s*pid\s*(\d+)`)},                              // app: pid 1234
	{re: regexp.MustCompile(`Process\s+(\w+)\s+\((\d+)\)`)},                       // Process name (1234)
	{re: regexp.MustCompile(`(?i)process\s+(\d+)\s+\(([^)]+)\)`), pidFirst: true}, // Killed process 1234 (java)
}

var (
	memoryAddressRe  = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	signalRe         = regexp.MustCompile(`(?i)signal\s+(\d+)`)
	ipv4Re           = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	failedPasswordRe = regexp.MustCompile(`Failed password for (?:invalid user )?(\S+) from`)
	userRe           = regexp.MustCompile(`user\s+(\w+)`)
	invalidUserRe    = regexp.MustCompile(`Invalid user\s+(\S+)`)
	fromIPRe         = regexp.MustCompile(`from\s+(\d{1,3}(?:\.\d{1,3}){3})`)
	clientIPRe       = regexp.MustCompile(`client:?\s+(\d{1,3}(?:\.\d{1,3}){3})`)
)

func extractTimestamp(line string, now time.Time) string {
	for _, re := range timestampPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return now.Format(fallbackTimestampLayout)
}

// extractCommonFields pulls process, memory address, signal and IP address;
// each field is independent and simply omitted when absent
func extractCommonFields(line string) map[string]string {
	fields := make(map[string]string)

	for _, p := range processPatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, pid := m[1], m[2]
		if p.pidFirst {
			name, pid = m[2], m[1]
		}
		fields[domain.FieldProcess] = name
		fields[domain.FieldPID] = pid
		break
	}

	if addr := memoryAddressRe.FindString(line); addr != "" {
		fields[domain.FieldMemoryAddress] = addr
	}
	if sig := firstGroup(signalRe, line); sig != "" {
		fields[domain.FieldSignal] = sig
	}
	if ip := ipv4Re.FindString(line); ip != "" {
		fields[domain.FieldIPAddress] = ip
	}

	return fields
}

func firstGroup(re *regexp.Regexp, line string) string {
	m := re.FindStringSubmatch(line)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

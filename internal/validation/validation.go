// Package validation provides centralized input validation for invsync.
//
// Names that reach the catalog, the admin API and the command line are
// checked here so that every entry point accepts the same set.
package validation

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// GroupNameRules returns the rules for synchronization group names.
func GroupNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// SourceIDRules returns the rules for data source ids, which are often
// host names.
func SourceIDRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateGroupName validates a synchronization group name.
func ValidateGroupName(name string) error {
	return ValidateName(name, GroupNameRules())
}

// ValidateSourceID validates a data source id.
func ValidateSourceID(id string) error {
	return ValidateName(id, SourceIDRules())
}

// =============================================================================
// Connection Parameters
// =============================================================================

// ValidateHost accepts an IP address or a DNS host name.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("host too long: maximum 253 characters")
	}

	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("invalid host %q: bad label length", host)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("invalid host %q: label cannot start or end with '-'", host)
		}
		for _, r := range label {
			if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
				return fmt.Errorf("invalid host %q: invalid character '%c'", host, r)
			}
		}
	}
	return nil
}

// ValidatePort accepts 0, meaning the provider default, or a TCP/UDP port.
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

// =============================================================================
// References
// =============================================================================

// ParseJobID parses a job id as used in API paths.
func ParseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

// ParseSourceList parses a comma separated list of data source ids,
// keeping order. Empty entries are skipped; duplicates are rejected.
func ParseSourceList(s string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)

	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if err := ValidateSourceID(id); err != nil {
			return nil, fmt.Errorf("invalid source %q: %w", id, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate source %q", id)
		}
		seen[id] = true
		out = append(out, id)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("empty source list")
	}
	return out, nil
}

package scanner

import "fmt"

// Rule identifiers reported in violations.
const (
	// RuleParseError indicates the source could not be parsed at all.
	RuleParseError = "parse-error"

	// RuleDynamicExec flags evaluate-string-as-code and process/shell
	// execution primitives.
	RuleDynamicExec = "dynamic-exec"

	// RuleSensitiveGlobal flags access to process-wide globals outside
	// the safe-member allow-list.
	RuleSensitiveGlobal = "sensitive-global"

	// RuleModuleEscape flags require() of deny-listed or undeterminable
	// modules.
	RuleModuleEscape = "module-escape"

	// RuleObfuscatedAccess flags computed member access that folds to a
	// banned name.
	RuleObfuscatedAccess = "obfuscated-access"
)

// Violation is a single rule hit at a source location.
type Violation struct {
	Rule        string `json:"rule"`
	Line        int    `json:"line"`
	Description string `json:"description"`
}

// String returns a human-readable form of the violation.
func (v Violation) String() string {
	return fmt.Sprintf("%s (line %d): %s", v.Rule, v.Line, v.Description)
}

// ScanResult is the outcome of scanning one source file. A result with no
// violations passes; any violation fails the whole scan.
type ScanResult struct {
	// Source is the name the source was scanned under.
	Source string `json:"source"`

	// Violations lists every rule hit found in the tree.
	Violations []Violation `json:"violations"`
}

// Passed returns true if no violations were found.
func (r ScanResult) Passed() bool {
	return len(r.Violations) == 0
}

// String returns a one-line summary of the result.
func (r ScanResult) String() string {
	if r.Passed() {
		return fmt.Sprintf("%s: pass", r.Source)
	}
	return fmt.Sprintf("%s: fail (%d violations)", r.Source, len(r.Violations))
}

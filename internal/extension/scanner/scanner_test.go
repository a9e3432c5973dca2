package scanner

import (
	"os"
	"strings"
	"testing"
)

// mustFail scans the source and asserts at least one violation with the
// given rule is reported.
func mustFail(t *testing.T, source, rule string) ScanResult {
	t.Helper()
	result := Scan(source, "test.lua")
	if result.Passed() {
		t.Fatalf("Scan(%q) passed, want %s violation", source, rule)
	}
	for _, v := range result.Violations {
		if v.Rule == rule {
			return result
		}
	}
	t.Fatalf("Scan(%q) violations = %v, want rule %s", source, result.Violations, rule)
	return result
}

// mustPass scans the source and asserts no violations.
func mustPass(t *testing.T, source string) {
	t.Helper()
	result := Scan(source, "test.lua")
	if !result.Passed() {
		t.Fatalf("Scan(%q) violations = %v, want pass", source, result.Violations)
	}
}

func TestScanCleanSource(t *testing.T) {
	mustPass(t, `
local lodge = require("lodge")

local count = 0

function activate()
    count = count + 1
    lodge.log.info("activated " .. count .. " times")
end

function deactivate()
    count = 0
end
`)
}

func TestScanSafeOsMembers(t *testing.T) {
	mustPass(t, `
local started = os.time()
local stamp = os.date("%Y-%m-%d")
local elapsed = os.clock()
local delta = os.difftime(os.time(), started)
`)
}

func TestScanDynamicExecDirect(t *testing.T) {
	mustFail(t, `load("return 1")()`, RuleDynamicExec)
	mustFail(t, `loadstring("return 1")()`, RuleDynamicExec)
	mustFail(t, `dofile("evil.lua")`, RuleDynamicExec)
	mustFail(t, `loadfile("evil.lua")`, RuleDynamicExec)
	mustFail(t, `os.execute("rm -rf /")`, RuleDynamicExec)
	mustFail(t, `io.popen("ls")`, RuleDynamicExec)
}

func TestScanDynamicExecAlias(t *testing.T) {
	// Aliasing the primitive is as dangerous as calling it.
	mustFail(t, `local f = load
f("return 1")()`, RuleDynamicExec)
}

func TestScanDynamicExecComputedAccess(t *testing.T) {
	mustFail(t, `os["execute"]("ls")`, RuleDynamicExec)
}

func TestScanObfuscatedConcatKey(t *testing.T) {
	result := mustFail(t, `local x = os["exe" .. "cute"]`, RuleDynamicExec)
	if len(result.Violations) != 1 {
		t.Errorf("violations = %v, want exactly one", result.Violations)
	}
}

func TestScanObfuscatedStringChar(t *testing.T) {
	// string.char(101,120,105,116) == "exit"
	mustFail(t, `local x = os[string.char(101, 120, 105, 116)]`, RuleObfuscatedAccess)
}

func TestScanObfuscatedKeyOnAlias(t *testing.T) {
	// The object is an alias the folder cannot see through, but the folded
	// key still names a banned member.
	mustFail(t, `
local o = something
o["pop" .. "en"]("ls")
`, RuleObfuscatedAccess)
}

func TestScanSensitiveGlobalReference(t *testing.T) {
	mustFail(t, `local env = os.getenv("SECRET")`, RuleSensitiveGlobal)
	mustFail(t, `io.write("hello")`, RuleSensitiveGlobal)
	mustFail(t, `debug.sethook()`, RuleSensitiveGlobal)
	mustFail(t, `package.loaded["os"] = nil`, RuleSensitiveGlobal)
	mustFail(t, `local g = _G`, RuleSensitiveGlobal)
}

func TestScanSensitiveGlobalWrite(t *testing.T) {
	mustFail(t, `os = {}`, RuleSensitiveGlobal)
	mustFail(t, `os.remove = nil`, RuleSensitiveGlobal)
}

func TestScanSensitiveGlobalComputedKey(t *testing.T) {
	// Member is not statically determinable; fail closed.
	mustFail(t, `local f = os[key]`, RuleSensitiveGlobal)
}

func TestScanRawBypass(t *testing.T) {
	// rawget(_G, ...) is caught via the _G argument reference.
	mustFail(t, `local f = rawget(_G, "load")`, RuleSensitiveGlobal)
}

func TestScanModuleEscape(t *testing.T) {
	mustFail(t, `local s = require("socket")`, RuleModuleEscape)
	mustFail(t, `local p = require("posix")`, RuleModuleEscape)
	mustFail(t, `require("io")`, RuleModuleEscape)
}

func TestScanDynamicRequire(t *testing.T) {
	mustFail(t, `local m = require(name)`, RuleModuleEscape)
}

func TestScanRequireConcatDenied(t *testing.T) {
	mustFail(t, `local s = require("soc" .. "ket")`, RuleModuleEscape)
}

func TestScanRequireAllowed(t *testing.T) {
	mustPass(t, `
local lodge = require("lodge")
local str = require("string")
`)
}

func TestScanParseError(t *testing.T) {
	result := Scan(`function broken(`, "broken.lua")
	if result.Passed() {
		t.Fatal("unparseable source should fail the scan")
	}
	if len(result.Violations) != 1 || result.Violations[0].Rule != RuleParseError {
		t.Errorf("violations = %v, want single parse-error", result.Violations)
	}
}

func TestScanAccumulatesViolations(t *testing.T) {
	result := Scan(`
load("a")
os.execute("b")
require("socket")
`, "multi.lua")

	if result.Passed() {
		t.Fatal("scan should fail")
	}
	if len(result.Violations) < 3 {
		t.Errorf("violations = %v, want at least 3 (no short-circuit)", result.Violations)
	}
}

func TestScanViolationLines(t *testing.T) {
	result := Scan("local a = 1\nlocal b = 2\nos.execute(\"x\")\n", "lines.lua")
	if result.Passed() {
		t.Fatal("scan should fail")
	}
	if result.Violations[0].Line != 3 {
		t.Errorf("violation line = %d, want 3", result.Violations[0].Line)
	}
}

func TestScanNestedScopes(t *testing.T) {
	// Violations inside nested functions, loops and branches are found.
	mustFail(t, `
function outer()
    if true then
        for i = 1, 10 do
            local inner = function()
                while true do
                    os.execute("x")
                end
            end
        end
    end
end
`, RuleDynamicExec)
}

func TestScanTableConstructor(t *testing.T) {
	mustFail(t, `local t = { handler = load }`, RuleDynamicExec)
}

func TestScanFile(t *testing.T) {
	result, err := ScanFile("/nonexistent/init.lua")
	if err == nil {
		t.Error("ScanFile() on missing file should return an error")
	}
	_ = result

	dir := t.TempDir()
	path := dir + "/init.lua"
	if err := os.WriteFile(path, []byte("local x = 1\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	result, err = ScanFile(path)
	if err != nil {
		t.Fatalf("ScanFile() error = %v", err)
	}
	if !result.Passed() {
		t.Errorf("violations = %v, want pass", result.Violations)
	}
	if !strings.HasSuffix(result.Source, "init.lua") {
		t.Errorf("Source = %q, want the file path", result.Source)
	}
}

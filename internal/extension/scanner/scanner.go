package scanner

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Scan parses the source and walks every node against the ruleset.
// Violations are accumulated rather than short-circuited so one pass
// produces a complete report. Parse failure is itself a failing result.
func Scan(source, name string) ScanResult {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		line := 0
		var perr *parse.Error
		if errors.As(err, &perr) {
			line = perr.Pos.Line
		}
		return ScanResult{
			Source: name,
			Violations: []Violation{{
				Rule:        RuleParseError,
				Line:        line,
				Description: fmt.Sprintf("source does not parse: %v", err),
			}},
		}
	}

	w := &walker{}
	w.walkStmts(chunk)
	return ScanResult{Source: name, Violations: w.violations}
}

// ScanFile reads and scans a file on disk.
func ScanFile(path string) (ScanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to read source: %w", err)
	}
	return Scan(string(data), path), nil
}

// walker accumulates violations while traversing the syntax tree.
type walker struct {
	violations []Violation
}

func (w *walker) add(rule string, node ast.PositionHolder, format string, args ...any) {
	line := 0
	if node != nil {
		line = node.Line()
	}
	w.violations = append(w.violations, Violation{
		Rule:        rule,
		Line:        line,
		Description: fmt.Sprintf(format, args...),
	})
}

func (w *walker) walkStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		w.walkStmt(s)
	}
}

func (w *walker) walkStmt(s ast.Stmt) {
	switch stmt := s.(type) {
	case *ast.LocalAssignStmt:
		w.walkExprs(stmt.Exprs)

	case *ast.AssignStmt:
		for _, lhs := range stmt.Lhs {
			if ident, ok := lhs.(*ast.IdentExpr); ok && sensitiveGlobals[ident.Value] {
				w.add(RuleSensitiveGlobal, ident, "assignment to global %q", ident.Value)
				continue
			}
			w.walkExpr(lhs)
		}
		w.walkExprs(stmt.Rhs)

	case *ast.FuncCallStmt:
		w.walkExpr(stmt.Expr)

	case *ast.DoBlockStmt:
		w.walkStmts(stmt.Stmts)

	case *ast.WhileStmt:
		w.walkExpr(stmt.Condition)
		w.walkStmts(stmt.Stmts)

	case *ast.RepeatStmt:
		w.walkExpr(stmt.Condition)
		w.walkStmts(stmt.Stmts)

	case *ast.IfStmt:
		w.walkExpr(stmt.Condition)
		w.walkStmts(stmt.Then)
		w.walkStmts(stmt.Else)

	case *ast.NumberForStmt:
		w.walkExpr(stmt.Init)
		w.walkExpr(stmt.Limit)
		if stmt.Step != nil {
			w.walkExpr(stmt.Step)
		}
		w.walkStmts(stmt.Stmts)

	case *ast.GenericForStmt:
		w.walkExprs(stmt.Exprs)
		w.walkStmts(stmt.Stmts)

	case *ast.FuncDefStmt:
		if stmt.Name != nil {
			if stmt.Name.Func != nil {
				w.walkExpr(stmt.Name.Func)
			}
			if stmt.Name.Receiver != nil {
				w.walkExpr(stmt.Name.Receiver)
			}
		}
		if stmt.Func != nil {
			w.walkStmts(stmt.Func.Stmts)
		}

	case *ast.ReturnStmt:
		w.walkExprs(stmt.Exprs)
	}
}

func (w *walker) walkExprs(exprs []ast.Expr) {
	for _, e := range exprs {
		w.walkExpr(e)
	}
}

func (w *walker) walkExpr(e ast.Expr) {
	switch expr := e.(type) {
	case *ast.IdentExpr:
		if dynamicExecGlobals[expr.Value] {
			w.add(RuleDynamicExec, expr, "reference to %q", expr.Value)
		} else if sensitiveGlobals[expr.Value] {
			w.add(RuleSensitiveGlobal, expr, "reference to global %q", expr.Value)
		}

	case *ast.AttrGetExpr:
		w.walkAttrGet(expr)

	case *ast.FuncCallExpr:
		w.walkFuncCall(expr)

	case *ast.StringConcatOpExpr:
		w.walkExpr(expr.Lhs)
		w.walkExpr(expr.Rhs)

	case *ast.LogicalOpExpr:
		w.walkExpr(expr.Lhs)
		w.walkExpr(expr.Rhs)

	case *ast.RelationalOpExpr:
		w.walkExpr(expr.Lhs)
		w.walkExpr(expr.Rhs)

	case *ast.ArithmeticOpExpr:
		w.walkExpr(expr.Lhs)
		w.walkExpr(expr.Rhs)

	case *ast.UnaryMinusOpExpr:
		w.walkExpr(expr.Expr)

	case *ast.UnaryNotOpExpr:
		w.walkExpr(expr.Expr)

	case *ast.UnaryLenOpExpr:
		w.walkExpr(expr.Expr)

	case *ast.FunctionExpr:
		w.walkStmts(expr.Stmts)

	case *ast.TableExpr:
		for _, field := range expr.Fields {
			if field.Key != nil {
				w.walkExpr(field.Key)
			}
			w.walkExpr(field.Value)
		}
	}
}

// walkAttrGet checks member access (obj.key and obj["key"]).
// For sensitive-global objects the object identifier itself is not walked,
// so allow-listed members like os.time produce no violation.
func (w *walker) walkAttrGet(expr *ast.AttrGetExpr) {
	objName := ""
	if ident, ok := expr.Object.(*ast.IdentExpr); ok {
		objName = ident.Value
	}

	_, keyIsLiteral := expr.Key.(*ast.StringExpr)
	member, memberKnown := foldString(expr.Key)

	if objName != "" && sensitiveGlobals[objName] {
		switch {
		case !memberKnown:
			// Cannot prove the member is safe; flag and keep walking the
			// key so nested expressions are also checked.
			w.add(RuleSensitiveGlobal, expr, "computed access to global %q", objName)
			w.walkExpr(expr.Key)
		case isDynamicExecMember(objName, member):
			w.add(RuleDynamicExec, expr, "access to %s.%s", objName, member)
		case isSafeMember(objName, member):
			// Allow-listed, nothing to report.
		case !keyIsLiteral:
			w.add(RuleObfuscatedAccess, expr, "computed key resolves to %s.%s", objName, member)
		default:
			w.add(RuleSensitiveGlobal, expr, "access to %s.%s", objName, member)
		}
		return
	}

	// Object is not a recognizable sensitive global. A computed key that
	// folds to a banned member name is still an escape attempt: the object
	// may be an alias the folder cannot see through.
	if !keyIsLiteral && memberKnown && bannedMemberNames[member] {
		w.add(RuleObfuscatedAccess, expr, "computed key resolves to banned member %q", member)
	}

	w.walkExpr(expr.Object)
	if !keyIsLiteral {
		w.walkExpr(expr.Key)
	}
}

// walkFuncCall checks call expressions. Identifier callees are resolved
// here (require, dynamic-exec primitives) instead of being walked as plain
// identifier references, so the violation names the call.
func (w *walker) walkFuncCall(expr *ast.FuncCallExpr) {
	if expr.Func != nil {
		if ident, ok := expr.Func.(*ast.IdentExpr); ok {
			switch {
			case ident.Value == "require":
				w.checkRequire(expr)
			case dynamicExecGlobals[ident.Value]:
				w.add(RuleDynamicExec, expr, "call to %q", ident.Value)
			case sensitiveGlobals[ident.Value]:
				w.add(RuleSensitiveGlobal, expr, "call to global %q", ident.Value)
			}
		} else {
			w.walkExpr(expr.Func)
		}
	}

	if expr.Receiver != nil {
		w.walkExpr(expr.Receiver)
	}
	w.walkExprs(expr.Args)
}

// checkRequire enforces the module deny-list. A require whose argument
// cannot be statically determined is itself a violation: the runtime
// indirection table would reject it anyway, but the scanner fails it with
// a location the author can act on.
func (w *walker) checkRequire(call *ast.FuncCallExpr) {
	if len(call.Args) == 0 {
		w.add(RuleModuleEscape, call, "require with no module name")
		return
	}

	name, ok := foldString(call.Args[0])
	if !ok {
		w.add(RuleModuleEscape, call, "require with dynamic module name")
		return
	}
	if denyModules[name] {
		w.add(RuleModuleEscape, call, "require of deny-listed module %q", name)
	}
}

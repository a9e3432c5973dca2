package scanner

import (
	"strconv"
	"strings"

	"github.com/yuin/gopher-lua/ast"
)

// foldString attempts to evaluate an expression to a constant string.
// It understands string literals, the .. concatenation operator, and
// string.char with numeric literal arguments. Returns false when the
// value cannot be determined statically.
func foldString(e ast.Expr) (string, bool) {
	switch expr := e.(type) {
	case *ast.StringExpr:
		return expr.Value, true

	case *ast.StringConcatOpExpr:
		lhs, ok := foldString(expr.Lhs)
		if !ok {
			return "", false
		}
		rhs, ok := foldString(expr.Rhs)
		if !ok {
			return "", false
		}
		return lhs + rhs, true

	case *ast.FuncCallExpr:
		if !isStringChar(expr) {
			return "", false
		}
		var b strings.Builder
		for _, arg := range expr.Args {
			num, ok := arg.(*ast.NumberExpr)
			if !ok {
				return "", false
			}
			code, err := strconv.ParseFloat(num.Value, 64)
			if err != nil {
				return "", false
			}
			b.WriteByte(byte(int(code)))
		}
		return b.String(), true
	}
	return "", false
}

// isStringChar reports whether the call expression is string.char(...).
func isStringChar(call *ast.FuncCallExpr) bool {
	attr, ok := call.Func.(*ast.AttrGetExpr)
	if !ok {
		return false
	}
	obj, ok := attr.Object.(*ast.IdentExpr)
	if !ok || obj.Value != "string" {
		return false
	}
	key, ok := attr.Key.(*ast.StringExpr)
	return ok && key.Value == "char"
}

package workers

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"unicode"
)

const (
	maxExponent = 1024
	// maxBits bounds the numerator and denominator of every operand and
	// intermediate result.
	maxBits = 4096
)

var calcReplacer = strings.NewReplacer("**", "^", "×", "*", "÷", "/", "x", "*", "X", "*")

// Calculate evaluates an arithmetic expression exactly. It supports + - *
// / %, ** (or ^) with an integer exponent, unary minus and parentheses.
func Calculate(expr string) (string, error) {
	src := calcReplacer.Replace(strings.TrimSpace(expr))
	if src == "" {
		return "", fmt.Errorf("empty expression")
	}
	node, err := parser.ParseExpr(src)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", expr, err)
	}
	v, err := eval(node)
	if err != nil {
		return "", err
	}
	return format(v), nil
}

// eval evaluates n and rejects any value wider than maxBits.
func eval(n ast.Expr) (constant.Value, error) {
	v, err := evalNode(n)
	if err != nil {
		return nil, err
	}
	return bounded(v)
}

func bounded(v constant.Value) (constant.Value, error) {
	if bits(v) > maxBits {
		return nil, fmt.Errorf("value exceeds %d bits", maxBits)
	}
	return v, nil
}

// bits is the width of v's numerator or denominator, whichever is wider.
// Values too large to express as a fraction count as unbounded.
func bits(v constant.Value) int {
	switch v.Kind() {
	case constant.Int:
		return constant.BitLen(v)
	case constant.Float:
		num, den := constant.Num(v), constant.Denom(v)
		if num.Kind() != constant.Int || den.Kind() != constant.Int {
			return maxBits + 1
		}
		return max(constant.BitLen(num), constant.BitLen(den))
	}
	return 0
}

func evalNode(n ast.Expr) (constant.Value, error) {
	switch e := n.(type) {
	case *ast.BasicLit:
		if e.Kind != token.INT && e.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal %s", e.Value)
		}
		return constant.MakeFromLiteral(e.Value, e.Kind, 0), nil

	case *ast.ParenExpr:
		return eval(e.X)

	case *ast.UnaryExpr:
		x, err := eval(e.X)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.SUB, token.ADD:
			return constant.UnaryOp(e.Op, x, 0), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", e.Op)

	case *ast.BinaryExpr:
		x, err := eval(e.X)
		if err != nil {
			return nil, err
		}
		y, err := eval(e.Y)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.ADD, token.SUB, token.MUL:
			return constant.BinaryOp(x, e.Op, y), nil
		case token.QUO:
			if constant.Sign(y) == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return constant.BinaryOp(constant.ToFloat(x), token.QUO, constant.ToFloat(y)), nil
		case token.REM:
			if x.Kind() != constant.Int || y.Kind() != constant.Int {
				return nil, fmt.Errorf("%% needs integer operands")
			}
			if constant.Sign(y) == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return constant.BinaryOp(x, token.REM, y), nil
		case token.XOR:
			return power(x, y)
		}
		return nil, fmt.Errorf("unsupported operator %s", e.Op)
	}
	return nil, fmt.Errorf("unsupported expression %T", n)
}

func power(x, y constant.Value) (constant.Value, error) {
	yi := constant.ToInt(y)
	if yi.Kind() != constant.Int {
		return nil, fmt.Errorf("exponent must be an integer")
	}
	exp, exact := constant.Int64Val(yi)
	if !exact {
		return nil, fmt.Errorf("exponent is too large")
	}
	neg := exp < 0
	if neg {
		exp = -exp
	}
	if exp > maxExponent {
		return nil, fmt.Errorf("exponent %d is too large", exp)
	}
	result := constant.MakeInt64(1)
	for range exp {
		result = constant.BinaryOp(result, token.MUL, x)
		if _, err := bounded(result); err != nil {
			return nil, err
		}
	}
	if neg {
		if constant.Sign(result) == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return constant.BinaryOp(constant.MakeFloat64(1), token.QUO, constant.ToFloat(result)), nil
	}
	return result, nil
}

func format(v constant.Value) string {
	if i := constant.ToInt(v); i.Kind() == constant.Int {
		return i.ExactString()
	}
	f, _ := constant.Float64Val(v)
	return strconv.FormatFloat(f, 'g', 12, 64)
}

// ExtractExpression returns the longest run of s that looks like an
// arithmetic expression, or "" when there is none.
func ExtractExpression(s string) string {
	var best, cur strings.Builder
	flush := func() {
		c := strings.TrimSpace(cur.String())
		if isExpression(c) && len(c) > best.Len() {
			best.Reset()
			best.WriteString(c)
		}
		cur.Reset()
	}
	for _, r := range s {
		if unicode.IsDigit(r) || strings.ContainsRune("+-*/%^().×÷ ", r) {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return best.String()
}

func isExpression(s string) bool {
	return strings.ContainsAny(s, "0123456789") && strings.ContainsAny(s, "+-*/%^×÷")
}

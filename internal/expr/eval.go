// Package expr compiles and evaluates the small formula language used by
// metric models. The language is closed: numbers, the variables r and p,
// caller parameters, and the fixed built-in function set. Programs are
// immutable after Compile and safe for concurrent use.
package expr

import (
	"math"
	"strings"
)

// Scope binds the variables visible to a program.
type Scope struct {
	R      float64
	P      float64
	Params map[string]float64
}

// Program is a compiled expression.
type Program struct {
	src  string
	root node
}

// Compile parses src. A blank source compiles to the constant 0.
func Compile(src string) (*Program, error) {
	root, err := parse(blankAsZero(src))
	if err != nil {
		return nil, err
	}
	return &Program{src: src, root: root}, nil
}

// MustCompile is Compile for package-level constants; it panics on error.
func MustCompile(src string) *Program {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Program) Source() string { return p.src }

// Eval evaluates the program and saturates the result to [0, 1].
// A NaN or infinite raw result is an error.
func (p *Program) Eval(s Scope) (float64, error) {
	v, err := p.EvalRaw(s)
	if err != nil {
		return 0, err
	}
	return Sat(v), nil
}

// EvalRaw evaluates without saturation.
func (p *Program) EvalRaw(s Scope) (float64, error) {
	e := &env{src: p.src, scope: s}
	v, err := p.root.eval(e)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, evalError(KindNonFinite, p.src, "result is %v", v)
	}
	return v, nil
}

// Evaluate compiles and evaluates src in one step.
func Evaluate(src string, s Scope) (float64, error) {
	p, err := Compile(src)
	if err != nil {
		return 0, err
	}
	return p.Eval(s)
}

func blankAsZero(src string) string {
	if strings.TrimSpace(src) == "" {
		return "0"
	}
	return src
}

// frame binds one integration variable; frames chain outward.
type frame struct {
	name   string
	value  float64
	parent *frame
}

type env struct {
	src   string
	scope Scope
	vars  *frame
}

// lookup resolves a name: integration variables, then r and p, then
// parameters, then the constants pi and e.
func (e *env) lookup(name string) (float64, bool) {
	for f := e.vars; f != nil; f = f.parent {
		if f.name == name {
			return f.value, true
		}
	}
	switch name {
	case "r":
		return e.scope.R, true
	case "p":
		return e.scope.P, true
	}
	if v, ok := e.scope.Params[name]; ok {
		return v, true
	}
	v, ok := constants[name]
	return v, ok
}

type node interface {
	eval(e *env) (float64, error)
}

type numNode float64

func (n numNode) eval(*env) (float64, error) { return float64(n), nil }

type strNode string

func (n strNode) eval(e *env) (float64, error) {
	return 0, evalError(KindType, e.src, "string %q used as a number", string(n))
}

type identNode string

func (n identNode) eval(e *env) (float64, error) {
	if v, ok := e.lookup(string(n)); ok {
		return v, nil
	}
	return 0, evalError(KindUnknown, e.src, "unknown identifier %s", string(n))
}

type negNode struct {
	operand node
}

func (n *negNode) eval(e *env) (float64, error) {
	v, err := n.operand.eval(e)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) eval(e *env) (float64, error) {
	a, err := n.left.eval(e)
	if err != nil {
		return 0, err
	}
	b, err := n.right.eval(e)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		return a / b, nil
	case "%":
		// floored modulo: the result takes the divisor's sign, and x % 0 is x
		if b == 0 {
			return a, nil
		}
		return a - b*math.Floor(a/b), nil
	case "^":
		return math.Pow(a, b), nil
	case "<":
		return boolNum(a < b), nil
	case "<=":
		return boolNum(a <= b), nil
	case ">":
		return boolNum(a > b), nil
	case ">=":
		return boolNum(a >= b), nil
	case "==":
		return boolNum(a == b), nil
	case "!=":
		return boolNum(a != b), nil
	}
	return 0, evalError(KindParse, e.src, "unsupported operator %s", n.op)
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type callNode struct {
	name string
	fn   func([]float64) float64
	args []node
}

func (n *callNode) eval(e *env) (float64, error) {
	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(e)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	return n.fn(vals), nil
}

// integralNode is a fixed-step trapezoidal integral of body over [a, b].
type integralNode struct {
	body    node
	varName string
	a, b, n node
}

func (n *integralNode) eval(e *env) (float64, error) {
	a, err := n.a.eval(e)
	if err != nil {
		return 0, err
	}
	b, err := n.b.eval(e)
	if err != nil {
		return 0, err
	}
	steps := defaultIntegralSteps
	if n.n != nil {
		v, err := n.n.eval(e)
		if err != nil {
			return 0, err
		}
		steps = integralSteps(v)
	}

	h := (b - a) / float64(steps)
	inner := &env{src: e.src, scope: e.scope}
	bound := &frame{name: n.varName, parent: e.vars}
	inner.vars = bound

	var sum float64
	for i := 0; i <= steps; i++ {
		bound.value = a + h*float64(i)
		y, err := n.body.eval(inner)
		if err != nil {
			return 0, err
		}
		if i == 0 || i == steps {
			y /= 2
		}
		sum += y
	}
	return sum * h, nil
}

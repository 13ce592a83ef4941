package expr

import (
	"fmt"
	"math"
)

const (
	defaultIntegralVar   = "x"
	defaultIntegralSteps = 60
	minIntegralSteps     = 2
	maxIntegralSteps     = 10000

	// MaxSourceLen and maxDepth bound the parser's work and recursion.
	MaxSourceLen = 4096
	maxDepth     = 256
	// maxIntegralCost caps the total body evaluations one evaluation of a
	// program may spend inside integrals.
	maxIntegralCost = 100000
)

type parser struct {
	src   string
	toks  []token
	pos   int
	depth int
	// integralCost sums the worst-case body evaluations of every integral.
	integralCost int
}

func parse(src string) (node, error) {
	n, _, err := parseSource(src)
	return n, err
}

func parseSource(src string) (node, *parser, error) {
	if len(src) > MaxSourceLen {
		return nil, nil, &Error{Kind: KindParse, Expr: src[:64] + "...", Pos: MaxSourceLen,
			Msg: fmt.Sprintf("expression longer than %d bytes", MaxSourceLen)}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{src: src, toks: toks}
	n, err := p.parseComparison()
	if err != nil {
		return nil, nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, nil, parseError(src, t.pos, "unexpected %q", t.text)
	}
	return n, p, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isOp("<", "<=", ">", ">=", "==", "!=") {
		op := p.next().text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "%") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

// parseUnary binds looser than '^', so -2^2 == -4. Every recursive path
// of the grammar passes through here, so nesting is counted here.
func (p *parser) parseUnary() (node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return nil, parseError(p.src, p.peek().pos, "expression nested deeper than %d", maxDepth)
	}
	if p.isOp("-", "+") {
		op := p.next().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return operand, nil
		}
		return &negNode{operand: operand}, nil
	}
	return p.parsePower()
}

// parsePower is right-associative: the exponent re-enters parseUnary.
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "^", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numNode(t.num), nil
	case tokString:
		return strNode(t.text), nil
	case tokLParen:
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, parseError(p.src, closing.pos, "expected ')'")
		}
		return inner, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return identNode(t.text), nil
	case tokEOF:
		return nil, parseError(p.src, t.pos, "unexpected end of expression")
	default:
		return nil, parseError(p.src, t.pos, "unexpected %q", t.text)
	}
}

func (p *parser) parseCall(name token) (node, error) {
	p.next() // (
	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, parseError(p.src, closing.pos, "expected ')' to close %s(", name.text)
	}

	if name.text == integralName {
		return p.buildIntegral(name, args)
	}

	fn, ok := builtins[name.text]
	if !ok {
		return nil, &Error{Kind: KindUnknown, Expr: p.src, Pos: name.pos, Msg: "unknown function " + name.text}
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, &Error{Kind: KindArity, Expr: p.src, Pos: name.pos, Msg: arityMsg(name.text, fn, len(args))}
	}
	for _, a := range args {
		if _, isStr := a.(strNode); isStr {
			return nil, &Error{Kind: KindType, Expr: p.src, Pos: name.pos, Msg: name.text + " does not accept string arguments"}
		}
	}
	return &callNode{name: name.text, fn: fn.fn, args: args}, nil
}

// buildIntegral compiles integral(expr, var, a, b, n). The body is compiled
// once here so evaluation never re-parses.
func (p *parser) buildIntegral(name token, args []node) (node, error) {
	if len(args) < 1 || len(args) > 5 {
		return nil, &Error{Kind: KindArity, Expr: p.src, Pos: name.pos, Msg: "integral takes 1 to 5 arguments"}
	}
	bodySrc, ok := args[0].(strNode)
	if !ok {
		return nil, &Error{Kind: KindType, Expr: p.src, Pos: name.pos, Msg: "integral body must be a string literal"}
	}
	body, inner, err := parseSource(blankAsZero(string(bodySrc)))
	if err != nil {
		return nil, err
	}
	if inner.integralCost > 0 {
		return nil, parseError(p.src, name.pos, "integral cannot be nested inside an integral body")
	}

	in := &integralNode{body: body, varName: defaultIntegralVar, a: numNode(0), b: numNode(1)}
	if len(args) >= 2 {
		v, ok := args[1].(strNode)
		if !ok || !validIdent(string(v)) {
			return nil, &Error{Kind: KindType, Expr: p.src, Pos: name.pos, Msg: "integral variable must be an identifier string"}
		}
		in.varName = string(v)
	}
	bounds := []*node{&in.a, &in.b, &in.n}
	for i := 2; i < len(args); i++ {
		if _, isStr := args[i].(strNode); isStr {
			return nil, &Error{Kind: KindType, Expr: p.src, Pos: name.pos, Msg: "integral bounds and steps must be numeric"}
		}
		*bounds[i-2] = args[i]
	}

	// a step count that is not a literal may reach the cap at run time
	steps := defaultIntegralSteps
	if in.n != nil {
		steps = maxIntegralSteps
		if lit, ok := in.n.(numNode); ok {
			steps = integralSteps(float64(lit))
		}
	}
	p.integralCost += steps + 1
	if p.integralCost > maxIntegralCost {
		return nil, parseError(p.src, name.pos, "integrals need more than %d evaluations", maxIntegralCost)
	}
	return in, nil
}

func arityMsg(name string, fn builtin, got int) string {
	switch {
	case fn.maxArgs < 0:
		return fmt.Sprintf("%s needs at least %d arguments, got %d", name, fn.minArgs, got)
	case fn.minArgs == fn.maxArgs:
		return fmt.Sprintf("%s takes %d arguments, got %d", name, fn.minArgs, got)
	default:
		return fmt.Sprintf("%s takes %d to %d arguments, got %d", name, fn.minArgs, fn.maxArgs, got)
	}
}

func integralSteps(v float64) int {
	if math.IsNaN(v) || v == 0 {
		return defaultIntegralSteps
	}
	n := math.Floor(v)
	if n < minIntegralSteps {
		return minIntegralSteps
	}
	if n > maxIntegralSteps {
		return maxIntegralSteps
	}
	return int(n)
}

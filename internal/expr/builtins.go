package expr

import "math"

type builtin struct {
	minArgs int
	maxArgs int // -1 means variadic
	fn      func(args []float64) float64
}

// builtins is the complete function surface of the language; integral is
// handled by the parser because its first argument is source text.
var builtins = map[string]builtin{
	"clip":    {3, 3, func(a []float64) float64 { return Clip(a[0], a[1], a[2]) }},
	"sigmoid": {1, 1, func(a []float64) float64 { return Sigmoid(a[0]) }},
	"step":    {1, 1, func(a []float64) float64 { return Step(a[0]) }},
	"sat":     {1, 1, func(a []float64) float64 { return Sat(a[0]) }},
	"exp":     {1, 1, func(a []float64) float64 { return math.Exp(a[0]) }},
	"log":     {1, 1, func(a []float64) float64 { return math.Log(a[0]) }},
	"sqrt":    {1, 1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"abs":     {1, 1, func(a []float64) float64 { return math.Abs(a[0]) }},
	"pow":     {2, 2, func(a []float64) float64 { return math.Pow(a[0], a[1]) }},
	"min":     {1, -1, minOf},
	"max":     {1, -1, maxOf},
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

const integralName = "integral"

// Clip bounds x to [lo, hi].
func Clip(lo, hi, x float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Step is the Heaviside step with Step(0) == 1.
func Step(x float64) float64 {
	if x >= 0 {
		return 1
	}
	return 0
}

// Sat saturates x to [0, 1].
func Sat(x float64) float64 {
	return Clip(0, 1, x)
}

func minOf(a []float64) float64 {
	m := a[0]
	for _, v := range a[1:] {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(a []float64) float64 {
	m := a[0]
	for _, v := range a[1:] {
		m = math.Max(m, v)
	}
	return m
}

// IsBuiltin reports whether name is a function or constant of the language.
func IsBuiltin(name string) bool {
	if name == integralName {
		return true
	}
	if _, ok := builtins[name]; ok {
		return true
	}
	_, ok := constants[name]
	return ok
}

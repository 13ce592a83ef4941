package expr

import "fmt"

// ErrorKind classifies expression failures.
type ErrorKind string

const (
	KindParse     ErrorKind = "parse"
	KindUnknown   ErrorKind = "unknown_identifier"
	KindArity     ErrorKind = "arity"
	KindType      ErrorKind = "type"
	KindNonFinite ErrorKind = "non_finite"
)

// Error is returned for every compile or evaluation failure.
type Error struct {
	Kind ErrorKind
	Expr string
	Pos  int
	Msg  string
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("expression %s error at %d in %q: %s", e.Kind, e.Pos, e.Expr, e.Msg)
	}
	return fmt.Sprintf("expression %s error in %q: %s", e.Kind, e.Expr, e.Msg)
}

func parseError(src string, pos int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindParse, Expr: src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func evalError(kind ErrorKind, src string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Expr: src, Pos: -1, Msg: fmt.Sprintf(format, args...)}
}

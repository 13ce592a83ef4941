package scoring

import "fmt"

// InputError reports invalid caller input: an unknown material, a
// malformed mixture or an out-of-range parameter. It is never retried.
type InputError struct {
	Field string
	Msg   string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// Inputf builds an InputError for field.
func Inputf(field, format string, args ...any) error {
	return &InputError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

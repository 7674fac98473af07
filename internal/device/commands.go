package device

import (
	"math"
	"strconv"
	"strings"
)

// CommandFunc executes one named command. It returns false when the
// arguments are invalid or the device cannot accept the command right now.
type CommandFunc func(args []any) bool

// Commands is a device's command table, keyed by method name.
type Commands map[string]CommandFunc

// Invoke runs the named command. Unknown methods return false.
func (c Commands) Invoke(method string, args ...any) bool {
	fn, ok := c[method]
	if !ok {
		return false
	}
	return fn(args)
}

// Methods returns the method names in the table.
func (c Commands) Methods() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	return out
}

// IntArg returns args[i] as an int. JSON numbers (float64) must be
// integral; numeric strings are parsed.
func IntArg(args []any, i int) (int, bool) {
	if i < 0 || i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// StringArg returns args[i] as a string.
func StringArg(args []any, i int) (string, bool) {
	if i < 0 || i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

// BoolArg returns args[i] as a bool. Accepts bools, 0/1 and "true"/"false".
func BoolArg(args []any, i int) (bool, bool) {
	if i < 0 || i >= len(args) {
		return false, false
	}
	switch v := args[i].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	if n, ok := IntArg(args, i); ok && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}

// OptionalInt returns args[i] as an int, or def when the argument is absent.
// A present but invalid argument reports false.
func OptionalInt(args []any, i, def int) (int, bool) {
	if i >= len(args) || args[i] == nil {
		return def, true
	}
	return IntArg(args, i)
}

// OptionalString returns args[i] as a string, or def when absent.
func OptionalString(args []any, i int, def string) (string, bool) {
	if i >= len(args) || args[i] == nil {
		return def, true
	}
	return StringArg(args, i)
}

package module

import (
	"fmt"
	"math"
	"strconv"
)

// ArgType is the declared type of a command argument.
type ArgType string

const (
	ArgString ArgType = "string"
	ArgInt    ArgType = "int"
	ArgFloat  ArgType = "float"
	ArgBool   ArgType = "bool"
)

// ArgSpec declares one command argument.
type ArgSpec struct {
	Name     string
	Type     ArgType
	Optional bool
}

// Arg is a convenience constructor for a required argument.
func Arg(name string, typ ArgType) ArgSpec {
	return ArgSpec{Name: name, Type: typ}
}

// OptArg is a convenience constructor for an optional argument.
func OptArg(name string, typ ArgType) ArgSpec {
	return ArgSpec{Name: name, Type: typ, Optional: true}
}

// CoerceArgs validates raw caller arguments against the schema and
// returns the coerced argument map. Coerced types are string, int64,
// float64, and bool. JSON-decoded numbers (float64) coerce to int when
// integral, and strings parse into the declared type.
//
// Postcondition: Returns a map holding exactly the declared arguments,
// or a non-nil error naming the first violation.
func CoerceArgs(specs []ArgSpec, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(specs))
	declared := make(map[string]bool, len(specs))

	for _, spec := range specs {
		declared[spec.Name] = true

		v, ok := raw[spec.Name]
		if !ok || v == nil {
			if spec.Optional {
				continue
			}
			return nil, fmt.Errorf("missing required argument %q", spec.Name)
		}

		coerced, err := coerceValue(spec.Type, v)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", spec.Name, err)
		}
		out[spec.Name] = coerced
	}

	for name := range raw {
		if !declared[name] {
			return nil, fmt.Errorf("unknown argument %q", name)
		}
	}

	return out, nil
}

func coerceValue(typ ArgType, v any) (any, error) {
	switch typ {
	case ArgString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)

	case ArgInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("expected integer, got %v", n)
			}
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", n)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected integer, got %T", v)

	case ArgFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", n)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected number, got %T", v)

	case ArgBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}

	return nil, fmt.Errorf("unknown argument type %q", typ)
}

package program

import (
	"errors"
	"fmt"
	"math"
)

// Literal is a variable initializer as it appears in an image: nil, a number,
// a string, or an object tagged with a VariableType. Its concrete Go shape
// depends on the codec that produced it (float64 from JSON, int from YAML,
// uint64 and map[interface{}]interface{} from CBOR); DecodeLiteral normalizes
// all of them.
type Literal = any

// VariableType tags object-shaped literals.
type VariableType int

const (
	VariableResource VariableType = 0
	VariablePath     VariableType = 1
	VariableList     VariableType = 2
)

// Literal object keys.
const (
	keyType             = "type"
	keyResourcePath     = "resourcePath"
	keyValue            = "value"
	keyValues           = "values"
	keyAssociatedValues = "associatedValues"
	keyKey              = "key"
)

var (
	ErrInvalidLiteral = errors.New("invalid literal")
	ErrMissingField   = errors.New("missing literal field")
)

// ---------------------------------------------------------------------------
// Decoded literal form
// ---------------------------------------------------------------------------

// LiteralKind identifies a decoded literal.
type LiteralKind int

const (
	LiteralNull LiteralKind = iota
	LiteralNumber
	LiteralString
	LiteralResource
	LiteralPath
	LiteralList
)

func (k LiteralKind) String() string {
	switch k {
	case LiteralNull:
		return "null"
	case LiteralNumber:
		return "number"
	case LiteralString:
		return "string"
	case LiteralResource:
		return "resource"
	case LiteralPath:
		return "path"
	case LiteralList:
		return "list"
	}
	return fmt.Sprintf("LiteralKind(%d)", int(k))
}

// Lit is a validated, codec-independent literal.
type Lit struct {
	Kind   LiteralKind
	Number float64

	// Text holds the string literal, the resource path, or a path given by name.
	Text string

	// TypeIndex is the type index of a path literal given by index, or -1.
	TypeIndex int

	Values []Lit
	Assoc  []AssocLit
}

// AssocLit is one ordered key/value entry of a list literal.
type AssocLit struct {
	Key   Lit
	Value Lit
}

// DecodeLiteral validates raw and converts it into a Lit.
func DecodeLiteral(raw Literal) (Lit, error) {
	if raw == nil {
		return Lit{Kind: LiteralNull, TypeIndex: -1}, nil
	}
	if s, ok := raw.(string); ok {
		return Lit{Kind: LiteralString, Text: s, TypeIndex: -1}, nil
	}
	if n, ok := toFloat(raw); ok {
		return Lit{Kind: LiteralNumber, Number: n, TypeIndex: -1}, nil
	}

	obj, ok := toMap(raw)
	if !ok {
		return Lit{}, fmt.Errorf("%w: unsupported value kind %T", ErrInvalidLiteral, raw)
	}

	rawType, ok := obj[keyType]
	if !ok {
		return Lit{}, fmt.Errorf("%w: %q", ErrMissingField, keyType)
	}
	vt, ok := toInt(rawType)
	if !ok {
		return Lit{}, fmt.Errorf("%w: variable type %v is not an integer", ErrInvalidLiteral, rawType)
	}

	switch VariableType(vt) {
	case VariableResource:
		return decodeResource(obj)
	case VariablePath:
		return decodePath(obj)
	case VariableList:
		return decodeList(obj)
	}
	return Lit{}, fmt.Errorf("%w: invalid variable type (%d)", ErrInvalidLiteral, vt)
}

func decodeResource(obj map[string]any) (Lit, error) {
	rp, ok := obj[keyResourcePath]
	if !ok {
		return Lit{}, fmt.Errorf("%w: %q", ErrMissingField, keyResourcePath)
	}
	switch p := rp.(type) {
	case nil:
		return Lit{Kind: LiteralNull, TypeIndex: -1}, nil
	case string:
		return Lit{Kind: LiteralResource, Text: p, TypeIndex: -1}, nil
	}
	return Lit{}, fmt.Errorf("%w: property %q must be a string or null", ErrInvalidLiteral, keyResourcePath)
}

func decodePath(obj map[string]any) (Lit, error) {
	v, ok := obj[keyValue]
	if !ok {
		return Lit{}, fmt.Errorf("%w: %q", ErrMissingField, keyValue)
	}
	if s, ok := v.(string); ok {
		return Lit{Kind: LiteralPath, Text: s, TypeIndex: -1}, nil
	}
	if i, ok := toInt(v); ok {
		if i < 0 {
			return Lit{}, fmt.Errorf("%w: negative type index %d", ErrInvalidLiteral, i)
		}
		return Lit{Kind: LiteralPath, TypeIndex: i}, nil
	}
	return Lit{}, fmt.Errorf("%w: invalid path value %v", ErrInvalidLiteral, v)
}

func decodeList(obj map[string]any) (Lit, error) {
	lit := Lit{Kind: LiteralList, TypeIndex: -1}

	if raw, ok := obj[keyValues]; ok && raw != nil {
		values, ok := raw.([]any)
		if !ok {
			return Lit{}, fmt.Errorf("%w: %q must be an array", ErrInvalidLiteral, keyValues)
		}
		for i, rv := range values {
			v, err := DecodeLiteral(rv)
			if err != nil {
				return Lit{}, fmt.Errorf("list value %d: %w", i, err)
			}
			lit.Values = append(lit.Values, v)
		}
	}

	if raw, ok := obj[keyAssociatedValues]; ok && raw != nil {
		pairs, ok := raw.([]any)
		if !ok {
			return Lit{}, fmt.Errorf("%w: %q must be an array of pairs", ErrInvalidLiteral, keyAssociatedValues)
		}
		for i, rp := range pairs {
			pair, ok := toMap(rp)
			if !ok {
				return Lit{}, fmt.Errorf("%w: associated value %d is not an object", ErrInvalidLiteral, i)
			}
			rk, ok := pair[keyKey]
			if !ok {
				return Lit{}, fmt.Errorf("associated value %d: %w: %q", i, ErrMissingField, keyKey)
			}
			key, err := DecodeLiteral(rk)
			if err != nil {
				return Lit{}, fmt.Errorf("associated key %d: %w", i, err)
			}
			val, err := DecodeLiteral(pair[keyValue])
			if err != nil {
				return Lit{}, fmt.Errorf("associated value %d: %w", i, err)
			}
			lit.Assoc = append(lit.Assoc, AssocLit{Key: key, Value: val})
		}
	}

	return lit, nil
}

// ---------------------------------------------------------------------------
// Literal construction
// ---------------------------------------------------------------------------

// AssocEntry is a raw key/value pair for ListLiteral.
type AssocEntry struct {
	Key   Literal
	Value Literal
}

// ResourceLiteral returns a resource literal for path.
func ResourceLiteral(path string) Literal {
	return map[string]any{keyType: int(VariableResource), keyResourcePath: path}
}

// NullResourceLiteral returns a resource literal with a null path.
func NullResourceLiteral() Literal {
	return map[string]any{keyType: int(VariableResource), keyResourcePath: nil}
}

// PathLiteral returns a type-path literal given by name.
func PathLiteral(path string) Literal {
	return map[string]any{keyType: int(VariablePath), keyValue: path}
}

// TypeIndexLiteral returns a type-path literal given by type index.
func TypeIndexLiteral(index int) Literal {
	return map[string]any{keyType: int(VariablePath), keyValue: index}
}

// ListLiteral returns a list literal. Either part may be empty.
func ListLiteral(values []Literal, assoc []AssocEntry) Literal {
	obj := map[string]any{keyType: int(VariableList)}
	if len(values) > 0 {
		vs := make([]any, len(values))
		copy(vs, values)
		obj[keyValues] = vs
	}
	if len(assoc) > 0 {
		pairs := make([]any, len(assoc))
		for i, e := range assoc {
			pairs[i] = map[string]any{keyKey: e.Key, keyValue: e.Value}
		}
		obj[keyAssociatedValues] = pairs
	}
	return obj
}

// ---------------------------------------------------------------------------
// Codec normalization helpers
// ---------------------------------------------------------------------------

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

package vm

import (
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// List: ordered values with an optional associative part
// ---------------------------------------------------------------------------

// List is a runtime list. Associating a key that is not yet among the
// ordered values appends it, so every associative key also appears in the
// ordered part and iteration order is insertion order.
type List struct {
	ref    Ref
	values []Value
	assoc  map[Value]Value
}

// Value returns the list's reference value.
func (l *List) Value() Value {
	return listValue(l.ref)
}

// Len returns the number of ordered values.
func (l *List) Len() int {
	return len(l.values)
}

// Values returns a copy of the ordered values.
func (l *List) Values() []Value {
	out := make([]Value, len(l.values))
	copy(out, l.values)
	return out
}

// AddValue appends v to the ordered values.
func (l *List) AddValue(v Value) {
	l.values = append(l.values, v)
}

// IsAssociative reports whether any key has an associated value.
func (l *List) IsAssociative() bool {
	return len(l.assoc) > 0
}

// SetValue associates key with value.
func (l *List) SetValue(key, value Value) {
	if l.assoc == nil {
		l.assoc = make(map[Value]Value)
	}
	if _, ok := l.assoc[key]; !ok && !l.contains(key) {
		l.values = append(l.values, key)
	}
	l.assoc[key] = value
}

// GetValue returns the value associated with key, or Null.
func (l *List) GetValue(key Value) Value {
	return l.assoc[key]
}

// HasKey reports whether key has an associated value.
func (l *List) HasKey(key Value) bool {
	_, ok := l.assoc[key]
	return ok
}

// AssocKeys returns the associated keys in ordered-value order.
func (l *List) AssocKeys() []Value {
	if len(l.assoc) == 0 {
		return nil
	}
	keys := make([]Value, 0, len(l.assoc))
	seen := make(map[Value]bool, len(l.assoc))
	for _, v := range l.values {
		if _, ok := l.assoc[v]; ok && !seen[v] {
			seen[v] = true
			keys = append(keys, v)
		}
	}
	return keys
}

// Index reads list[key]. A numeric key is a 1-based position, anything else
// is an associative lookup.
func (l *List) Index(key Value) (Value, error) {
	if n, ok := key.AsNumber(); ok {
		i := int(n)
		if float64(i) != n || i < 1 || i > len(l.values) {
			return Null, errors.Errorf("list index %v out of range (len %d)", key, len(l.values))
		}
		return l.values[i-1], nil
	}
	return l.GetValue(key), nil
}

// SetIndex writes list[key] = value with the same key rules as Index.
func (l *List) SetIndex(key, value Value) error {
	if n, ok := key.AsNumber(); ok {
		i := int(n)
		if float64(i) != n || i < 1 || i > len(l.values) {
			return errors.Errorf("list index %v out of range (len %d)", key, len(l.values))
		}
		l.values[i-1] = value
		return nil
	}
	l.SetValue(key, value)
	return nil
}

func (l *List) contains(v Value) bool {
	for _, x := range l.values {
		if x == v {
			return true
		}
	}
	return false
}

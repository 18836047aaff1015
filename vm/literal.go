package vm

import (
	"github.com/chazu/dream/program"
	"github.com/pkg/errors"
)

// ValueFromLiteral converts an image literal into a runtime value, creating
// lists and loading resources as needed. Path literals given by type index
// resolve against the loaded tree.
func (rt *Runtime) ValueFromLiteral(raw program.Literal) (Value, error) {
	return rt.valueFromLiteral(rt.tree, raw)
}

func (rt *Runtime) valueFromLiteral(t *ObjectTree, raw program.Literal) (Value, error) {
	lit, err := program.DecodeLiteral(raw)
	if err != nil {
		return Null, err
	}
	return rt.valueFromLit(t, lit)
}

func (rt *Runtime) valueFromLit(t *ObjectTree, lit program.Lit) (Value, error) {
	switch lit.Kind {
	case program.LiteralNull:
		return Null, nil
	case program.LiteralNumber:
		return Number(lit.Number), nil
	case program.LiteralString:
		return String(lit.Text), nil
	case program.LiteralResource:
		return rt.LoadResource(lit.Text)
	case program.LiteralPath:
		if lit.TypeIndex < 0 {
			return PathValue(TypePath(lit.Text)), nil
		}
		var e *TreeEntry
		if t != nil {
			e = t.EntryAt(lit.TypeIndex)
		}
		if e == nil {
			return Null, errors.Wrapf(ErrUnknownType, "type index %d", lit.TypeIndex)
		}
		return PathValue(e.Path), nil
	case program.LiteralList:
		l := rt.CreateList()
		for _, item := range lit.Values {
			v, err := rt.valueFromLit(t, item)
			if err != nil {
				return Null, err
			}
			l.AddValue(v)
		}
		for _, pair := range lit.Assoc {
			k, err := rt.valueFromLit(t, pair.Key)
			if err != nil {
				return Null, err
			}
			v, err := rt.valueFromLit(t, pair.Value)
			if err != nil {
				return Null, err
			}
			l.SetValue(k, v)
		}
		return l.Value(), nil
	}
	return Null, errors.Errorf("unhandled literal kind %s", lit.Kind)
}

// LiteralFromValue converts a value back into image literal form. Objects
// and faults have no literal form.
func (rt *Runtime) LiteralFromValue(v Value) (program.Literal, error) {
	v = rt.objects.Normalize(v)
	switch v.tag {
	case TagNull:
		return nil, nil
	case TagNumber:
		return v.num, nil
	case TagString:
		return v.str, nil
	case TagPath:
		return program.PathLiteral(v.str), nil
	case TagResource:
		return program.ResourceLiteral(rt.objects.Resource(v).Path), nil
	case TagList:
		l := rt.objects.List(v)

		// Keys that are also ordered values stay in values; decoding does
		// not append a key that is already present.
		var values []program.Literal
		for _, item := range l.values {
			lit, err := rt.LiteralFromValue(item)
			if err != nil {
				return nil, err
			}
			values = append(values, lit)
		}

		var assoc []program.AssocEntry
		for _, k := range l.AssocKeys() {
			kl, err := rt.LiteralFromValue(k)
			if err != nil {
				return nil, err
			}
			vl, err := rt.LiteralFromValue(l.assoc[k])
			if err != nil {
				return nil, err
			}
			assoc = append(assoc, program.AssocEntry{Key: kl, Value: vl})
		}
		return program.ListLiteral(values, assoc), nil
	}
	return nil, errors.Errorf("%s has no literal form", v)
}

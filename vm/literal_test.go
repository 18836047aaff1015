package vm

import (
	"testing"

	"github.com/chazu/dream/program"
)

func TestLiteralRoundTripThroughCodecs(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	mustLoad(t, rt, treeImage())

	inner := rt.CreateList()
	inner.AddValue(Number(1))
	inner.AddValue(PathValue("/datum"))

	l := rt.CreateList()
	l.AddValue(String("plain"))
	l.AddValue(inner.Value())
	l.SetValue(String("k"), Number(9))
	l.SetValue(PathValue("/atom"), Null)

	lit, err := rt.LiteralFromValue(l.Value())
	if err != nil {
		t.Fatal(err)
	}

	for _, format := range []program.Format{program.FormatJSON, program.FormatYAML, program.FormatCBOR} {
		t.Run(format.String(), func(t *testing.T) {
			img := &program.Image{Types: []program.Type{{Path: "/", Variables: map[string]program.Literal{"l": lit}}}}
			data, err := program.Encode(img, format)
			if err != nil {
				t.Fatal(err)
			}
			decoded, err := program.Decode(data, format)
			if err != nil {
				t.Fatal(err)
			}

			v, err := rt.ValueFromLiteral(decoded.Types[0].Variables["l"])
			if err != nil {
				t.Fatal(err)
			}
			got := rt.Objects().List(v)
			if got == nil {
				t.Fatalf("decoded %s, want a list", v)
			}
			vals := got.Values()
			if len(vals) != 4 || vals[0] != String("plain") || vals[2] != String("k") || vals[3] != PathValue("/atom") {
				t.Fatalf("values = %v", vals)
			}
			if got.GetValue(String("k")) != Number(9) || !got.HasKey(PathValue("/atom")) {
				t.Errorf("assoc mismatch: k=%s", got.GetValue(String("k")))
			}
			in := rt.Objects().List(vals[1])
			if in == nil || in.Len() != 2 || in.Values()[1] != PathValue("/datum") {
				t.Errorf("nested list = %v", in)
			}
		})
	}
}

func TestLiteralFromValueRejectsObjects(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	mustLoad(t, rt, treeImage())

	o, err := rt.CreateObject("/datum")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.LiteralFromValue(o.Value()); err == nil {
		t.Error("objects have no literal form")
	}
	if _, err := rt.LiteralFromValue(FaultValue("x")); err == nil {
		t.Error("faults have no literal form")
	}

	res, err := rt.LoadResource("icons/a.dmi")
	if err != nil {
		t.Fatal(err)
	}
	lit, err := rt.LiteralFromValue(res)
	if err != nil {
		t.Fatal(err)
	}
	back, err := rt.ValueFromLiteral(lit)
	if err != nil {
		t.Fatal(err)
	}
	if back != res {
		t.Errorf("resource round trip = %s, want the cached %s", back, res)
	}
}

func TestListLiteralKeepsKeysRepeatedInValues(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	mustLoad(t, rt, treeImage())

	lit := program.ListLiteral(
		[]program.Literal{"a", "b", "a"},
		[]program.AssocEntry{{Key: "a", Value: float64(1)}},
	)
	first, err := rt.ValueFromLiteral(lit)
	if err != nil {
		t.Fatal(err)
	}
	again, err := rt.LiteralFromValue(first)
	if err != nil {
		t.Fatal(err)
	}
	second, err := rt.ValueFromLiteral(again)
	if err != nil {
		t.Fatal(err)
	}

	want := []Value{String("a"), String("b"), String("a")}
	for _, v := range []Value{first, second} {
		l := rt.Objects().List(v)
		if l == nil {
			t.Fatalf("decoded %s, want a list", v)
		}
		vals := l.Values()
		if len(vals) != len(want) {
			t.Fatalf("values = %v, want %v", vals, want)
		}
		for i := range want {
			if vals[i] != want[i] {
				t.Errorf("values[%d] = %s, want %s", i, vals[i], want[i])
			}
		}
		if l.GetValue(String("a")) != Number(1) {
			t.Errorf("a = %s, want 1", l.GetValue(String("a")))
		}
	}
}

package vm

import (
	"unicode/utf8"

	"github.com/pkg/errors"
)

// registerBuiltins installs the global procs every program can call.
func (rt *Runtime) registerBuiltins() {
	rt.SetGlobalAsyncProc("sleep", []string{"delay"}, func(c *AsyncCall) (Value, error) {
		return Null, c.Sleep(sleepTicks(c.Arg(0)))
	})

	rt.SetGlobalNativeProc("log", []string{"message"}, func(c *NativeCall) (Value, error) {
		msg := c.Arg(0)
		if s, ok := msg.AsString(); ok {
			c.Runtime.log.Notice(s)
		} else {
			c.Runtime.log.Notice(msg.String())
		}
		return Null, nil
	})

	rt.SetGlobalNativeProc("length", []string{"value"}, func(c *NativeCall) (Value, error) {
		v := c.Arg(0)
		switch v.Tag() {
		case TagNull:
			return Number(0), nil
		case TagString:
			return Number(float64(utf8.RuneCountInString(v.str))), nil
		case TagList:
			return Number(float64(c.Runtime.objects.List(v).Len())), nil
		}
		return Null, errors.Errorf("length of %s", v)
	})

	rt.SetGlobalNativeProc("istype", []string{"object", "type"}, func(c *NativeCall) (Value, error) {
		o := c.Runtime.objects.Object(c.Arg(0))
		path, ok := c.Arg(1).AsPath()
		if !ok {
			return Null, errors.Errorf("istype: expected a type path, got %s", c.Arg(1))
		}
		if o == nil {
			return Bool(false), nil
		}
		return Bool(o.IsSubtypeOf(path)), nil
	})
}

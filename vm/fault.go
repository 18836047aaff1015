package vm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
)

var (
	ErrStackOverflow  = errors.New("stack depth limit reached")
	ErrCancelled      = errors.New("thread cancelled")
	ErrAbandoned      = errors.New("async proc abandoned")
	ErrNoProgram      = errors.New("no program loaded")
	ErrDuplicateType  = errors.New("duplicate type path")
	ErrBadParent      = errors.New("invalid parent index")
	ErrMissingRoot    = errors.New("missing root type")
	ErrUnreachable    = errors.New("type unreachable from root")
	ErrUnknownType    = errors.New("unknown type")
	ErrBadGlobalSlot  = errors.New("global slot out of range")
	ErrBadStringIndex = errors.New("string index out of range")
)

// ---------------------------------------------------------------------------
// Fault kinds
// ---------------------------------------------------------------------------

// CancellingError stops the whole thread when it escapes a step.
type CancellingError struct {
	err error
}

// Cancelling wraps err so that it cancels the thread it escapes into.
func Cancelling(err error) error {
	return &CancellingError{err: errors.WithStack(err)}
}

func (e *CancellingError) Error() string { return e.err.Error() }
func (e *CancellingError) Unwrap() error { return e.err }

func (e *CancellingError) Format(s fmt.State, verb rune) {
	formatWrapped(s, verb, e.err)
}

// PropagatingError unwinds the frame it escapes from. The caller receives a
// Fault value in place of the frame's return value.
type PropagatingError struct {
	err error
}

// Propagating wraps err so that it unwinds the current frame.
func Propagating(err error) error {
	return &PropagatingError{err: errors.WithStack(err)}
}

func (e *PropagatingError) Error() string { return e.err.Error() }
func (e *PropagatingError) Unwrap() error { return e.err }

func (e *PropagatingError) Format(s fmt.State, verb rune) {
	formatWrapped(s, verb, e.err)
}

func formatWrapped(s fmt.State, verb rune, err error) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%+v", err)
		return
	}
	fmt.Fprint(s, err.Error())
}

// invariantError is panicked when the runtime's own bookkeeping is broken.
// Fault recovery re-panics it instead of reporting it.
type invariantError struct {
	msg string
}

func (e *invariantError) Error() string { return "dream: invariant violated: " + e.msg }

// ---------------------------------------------------------------------------
// LoadError
// ---------------------------------------------------------------------------

// LoadError reports a malformed program image. Loading stops at the first one.
type LoadError struct {
	Type  TypePath // empty when the record has no usable path
	Index int      // type record index, or -1
	Err   error
}

func (e *LoadError) Error() string {
	switch {
	case e.Type != "":
		return fmt.Sprintf("load %s: %v", e.Type, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("load type %d: %v", e.Index, e.Err)
	}
	return "load: " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Fault reporting
// ---------------------------------------------------------------------------

// FaultSink receives a formatted report for every fault that escapes a step.
type FaultSink interface {
	ReportFault(report string)
}

// LogFaultSink writes fault reports to a commonlog logger at error level.
type LogFaultSink struct {
	Log commonlog.Logger
}

// NewLogFaultSink creates a sink logging to the "dream.fault" logger.
func NewLogFaultSink() *LogFaultSink {
	return &LogFaultSink{Log: commonlog.GetLogger("dream.fault")}
}

func (s *LogFaultSink) ReportFault(report string) {
	s.Log.Error(report)
}

// FaultSinkFunc adapts a function to FaultSink.
type FaultSinkFunc func(report string)

func (f FaultSinkFunc) ReportFault(report string) { f(report) }

// formatFault builds the report for err raised on t.
func formatFault(t *Thread, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exception Occurred: %s\n", err)
	b.WriteString("=DM StackTrace=\n")
	t.AppendStackTrace(&b)
	b.WriteString("\n=Native StackTrace=\n")
	fmt.Fprintf(&b, "%+v\n", err)
	return b.String()
}

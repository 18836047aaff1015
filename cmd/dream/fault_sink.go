package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	ansiRed   = "\x1b[31m"
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// terminalSink prints fault reports to a writer, coloring the headline red
// and the native trace dim when the writer is a terminal.
type terminalSink struct {
	w     io.Writer
	color bool
}

func newTerminalSink(f *os.File) *terminalSink {
	fd := f.Fd()
	return &terminalSink{
		w:     f,
		color: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

func (s *terminalSink) ReportFault(report string) {
	report = strings.TrimRight(report, "\n")
	if !s.color {
		fmt.Fprintln(s.w, report)
		return
	}

	headline, rest, _ := strings.Cut(report, "\n")
	dm, native, found := strings.Cut(rest, "=Native StackTrace=")
	fmt.Fprintf(s.w, "%s%s%s\n", ansiRed, headline, ansiReset)
	if !found {
		fmt.Fprintln(s.w, rest)
		return
	}
	fmt.Fprint(s.w, dm)
	fmt.Fprintf(s.w, "%s=Native StackTrace=%s%s\n", ansiDim, native, ansiReset)
}

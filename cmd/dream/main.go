// Dream CLI - loads a compiled program image and runs its entry proc
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	dir := flag.String("C", ".", "Project directory (searched upwards for dream.toml)")
	imagePath := flag.String("image", "", "Program image to load (overrides [program] image)")
	entryType := flag.String("type", "", "Type whose proc is the entry point (overrides [program] entry_type)")
	entryProc := flag.String("proc", "", "Entry proc name (overrides [program] entry_proc)")
	maxTicks := flag.Int("max-ticks", -1, "Stop after this many ticks (overrides [runtime] max_ticks)")
	verbosity := flag.Int("v", 0, "Log verbosity added to [log] verbosity")
	convertOut := flag.String("convert", "", "Re-encode the image to this path (format from extension) and exit")
	disasm := flag.Bool("disasm", false, "Print the disassembly of every proc and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dream [options] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Loads a compiled program image and runs its entry proc, passing args as strings.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  dream                              # Run the project in the current directory\n")
		fmt.Fprintf(os.Stderr, "  dream -image game.json -proc main  # Run a global proc from an image\n")
		fmt.Fprintf(os.Stderr, "  dream -type /world -proc New       # Create /world and run its New proc\n")
		fmt.Fprintf(os.Stderr, "  dream -image game.json -convert game.dmb  # Convert JSON to CBOR\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *imagePath != "" {
		cfg.Program.Image = *imagePath
	}
	if *entryType != "" {
		cfg.Program.EntryType = *entryType
	}
	if *entryProc != "" {
		cfg.Program.EntryProc = *entryProc
	}
	if *maxTicks >= 0 {
		cfg.Runtime.MaxTicks = *maxTicks
	}
	cfg.Log.Verbosity += *verbosity

	var logPath *string
	if p := cfg.LogFilePath(); p != "" {
		logPath = &p
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	switch {
	case *convertOut != "":
		err = convertImage(cfg.ImagePath(), *convertOut)
	case *disasm:
		err = disassembleImage(os.Stdout, cfg.ImagePath())
	default:
		var code int
		code, err = run(cfg, flag.Args(), newTerminalSink(os.Stderr), os.Stdout)
		if err == nil {
			os.Exit(code)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

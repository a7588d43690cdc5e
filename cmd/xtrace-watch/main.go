//go:build linux

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/arcflow/xtrace/internal/cfg"
	"github.com/arcflow/xtrace/internal/decode"
	"github.com/arcflow/xtrace/internal/tracer"
	term "github.com/nsf/termbox-go"
)

func main() {
	syntax := flag.String("syntax", "intel", "Disassembly syntax: intel or gnu")
	mode := flag.Uint("mode", 64, "Address width: 32 or 64")

	flag.Parse()

	if flag.NArg() < 1 {
		log.Printf("usage: xtrace-watch [flags] <target> [args...]")
		os.Exit(1)
	}

	t, err := tracer.Launch(flag.Arg(0), flag.Args()[1:]...)
	if err != nil {
		log.Printf("error launching target: %s", err)
		os.Exit(1)
	}

	dec := decode.NewDecoder(decodeModeOf(*mode), decode.ParseSyntax(*syntax))
	builder := cfg.NewBuilder()

	if err := term.Init(); err != nil {
		log.Printf("error initializing termbox: %s", err)
		os.Exit(1)
	}
	defer term.Close()

	q := make(chan os.Signal, 1)
	signal.Notify(q, os.Interrupt)

	last := "(nothing observed yet)"

MainLoop:
	for {
		draw(builder, last)

		ev := term.PollEvent()
		if ev.Type != term.EventKey {
			continue
		}
		switch ev.Key {
		case term.KeyCtrlC:
			break MainLoop
		case term.KeyEnter:
			// fall through to single-step below
		default:
			continue
		}

		select {
		case <-q:
			break MainLoop
		default:
		}

		step, ok, err := t.Step()
		if err != nil {
			last = fmt.Sprintf("step error: %s", err)
			continue
		}
		if !ok {
			last = "target exited"
			break MainLoop
		}

		d, err := dec.Decode(step.Address, step.Opcodes)
		if err != nil {
			last = fmt.Sprintf("decode error at %#x: %s", step.Address, err)
			continue
		}

		opcodes := step.Opcodes
		if len(opcodes) > d.Size {
			opcodes = opcodes[:d.Size]
		}
		text := fmt.Sprintf("%#x  %s", step.Address, d.Text)
		if err := builder.Observe(step.Address, opcodes, text); err != nil {
			last = fmt.Sprintf("observe error: %s", err)
			continue
		}
		last = text
	}

	term.Close()
	log.Printf("xtrace-watch stopped...")
	log.Printf("Functions discovered: %d", builder.Roster().Len())
	log.Printf("Index entries: %d  collisions: %d", builder.Index().Entries(), builder.Index().Collisions())
}

func draw(builder *cfg.Builder, last string) {
	term.Clear(term.ColorDefault, term.ColorDefault)
	writeLine(0, "xtrace-watch  (Enter = step, Ctrl-C = quit)")
	writeLine(2, fmt.Sprintf("functions: %d   index entries: %d   collisions: %d",
		builder.Roster().Len(), builder.Index().Entries(), builder.Index().Collisions()))
	writeLine(4, "last: "+last)
	term.Flush()
}

func writeLine(row int, s string) {
	for col, r := range s {
		term.SetCell(col, row, r, term.ColorDefault, term.ColorDefault)
	}
}

func decodeModeOf(bits uint) decode.Mode {
	if bits == 32 {
		return decode.Mode32
	}
	return decode.Mode64
}

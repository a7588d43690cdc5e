//go:build linux

package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/arcflow/xtrace/internal/cfg"
	"github.com/arcflow/xtrace/internal/decode"
	"github.com/arcflow/xtrace/internal/render"
	"github.com/arcflow/xtrace/internal/tracer"
)

func main() {
	syntax := flag.String("syntax", "intel", "Disassembly syntax: intel or gnu")
	stop := flag.String("stop", "", "Stop address in hex, e.g. 0x401230")
	detectLoops := flag.Bool("trapDetector", true, "Stop when the target settles into an idle loop")
	funcIndex := flag.Int("func", 0, "Function roster index to render")
	out := flag.String("out", "xtrace.dot", "Output DOT file path")
	mode := flag.Uint("mode", 64, "Address width: 32 or 64")

	flag.Parse()

	if flag.NArg() < 1 {
		log.Printf("usage: xtrace [flags] <target> [args...]")
		os.Exit(1)
	}

	var stopAt uint64
	if *stop != "" {
		if _, err := fmt.Sscanf(*stop, "0x%x", &stopAt); err != nil {
			log.Printf("error parsing -stop: %s", err)
			os.Exit(1)
		}
	}

	t, err := tracer.Launch(flag.Arg(0), flag.Args()[1:]...)
	if err != nil {
		log.Printf("error launching target: %s", err)
		os.Exit(1)
	}

	dec := decode.NewDecoder(decodeMode(*mode), decode.ParseSyntax(*syntax))
	builder := cfg.NewBuilder()

	q := make(chan os.Signal, 1)
	signal.Notify(q, os.Interrupt)

	log.Printf("Starting xtrace on pid %d...", t.Pid())

	reason, err := tracer.Run(t, tracer.Options{StopAt: stopAt, DetectLoops: *detectLoops}, func(step tracer.Step) error {
		select {
		case <-q:
			return fmt.Errorf("interrupted")
		default:
		}

		d, derr := dec.Decode(step.Address, step.Opcodes)
		if derr != nil {
			log.Printf("decode error at %#x: %s", step.Address, derr)
			return nil
		}

		text := fmt.Sprintf("%#x  %s", step.Address, d.Text)
		opcodes := step.Opcodes
		if len(opcodes) > d.Size {
			opcodes = opcodes[:d.Size]
		}
		if err := builder.Observe(step.Address, opcodes, text); err != nil {
			if cfgFatal(err) {
				return err
			}
			log.Printf("observe error at %#x: %s", step.Address, err)
		}
		return nil
	})
	if err != nil {
		log.Printf("tracing stopped with an error: %s", err)
	}

	log.Printf("xtrace stopped...")
	log.Printf("--------------")
	log.Printf("Reason: %s", reason)
	log.Printf("Functions discovered: %d", builder.Roster().Len())
	log.Printf("Index entries: %d  collisions: %d  buckets: %d",
		builder.Index().Entries(), builder.Index().Collisions(), builder.Index().BucketCount())
	log.Printf("Pending (unmatched) calls: %d", builder.PendingCalls())
	log.Printf("--------------")

	root, ok := builder.Roster().At(*funcIndex)
	if !ok {
		log.Printf("no function at roster index %d", *funcIndex)
		os.Exit(1)
	}

	graph := cfg.Synthesize(root)

	f, err := os.Create(*out)
	if err != nil {
		log.Printf("error creating %s: %s", *out, err)
		os.Exit(1)
	}
	defer f.Close()

	if err := render.WriteDOT(f, fmt.Sprintf("func_%d", *funcIndex), graph); err != nil {
		log.Printf("error writing DOT: %s", err)
		os.Exit(1)
	}

	log.Printf("Wrote %s (%d blocks)", *out, len(graph.Blocks))

	if reason != tracer.StopExited && reason != tracer.StopAddress {
		os.Exit(1)
	}
}

func decodeMode(bits uint) decode.Mode {
	if bits == 32 {
		return decode.Mode32
	}
	return decode.Mode64
}

// cfgFatal reports whether err is the unrecoverable classification-invariant
// kind, which stops the run, as opposed to an ordinary invalid-input error
// on one step, which is logged and skipped.
func cfgFatal(err error) bool {
	return errors.Is(err, cfg.ErrClassificationInvariant)
}

// Package decode turns raw opcode bytes into the (size, text) pair the
// CFG core needs, wrapping golang.org/x/arch/x86/x86asm so xtrace never
// hand-rolls an x86 disassembler.
package decode

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Syntax selects the operand-formatting flavor used to render DisplayText.
type Syntax int

const (
	Intel Syntax = iota
	GNU
)

// ParseSyntax maps a -syntax flag value to a Syntax, defaulting to Intel
// for anything it doesn't recognize.
func ParseSyntax(s string) Syntax {
	if s == "gnu" {
		return GNU
	}
	return Intel
}

// Mode is the decode width: 32-bit or 64-bit x86.
type Mode int

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// Decoder decodes single instructions at a fixed address width and syntax.
type Decoder struct {
	mode   int
	syntax Syntax
}

func NewDecoder(mode Mode, syntax Syntax) *Decoder {
	return &Decoder{mode: int(mode), syntax: syntax}
}

// Decoded is one decoded instruction: its length in bytes and its
// formatted display text, ready to hand to cfg.Builder.Observe.
type Decoded struct {
	Size int
	Text string
}

// Decode decodes the instruction at address starting at the head of src.
// src may (and generally will) contain trailing bytes beyond the
// instruction; only inst.Len of them are consumed.
func (d *Decoder) Decode(address uint64, src []byte) (Decoded, error) {
	inst, err := x86asm.Decode(src, d.mode)
	if err != nil {
		return Decoded{}, fmt.Errorf("decode at %#x: %w", address, err)
	}

	var text string
	switch d.syntax {
	case GNU:
		text = x86asm.GNUSyntax(inst, address, nil)
	default:
		text = x86asm.IntelSyntax(inst, address, nil)
	}
	if text == "" {
		text = fmt.Sprintf("%#x: (unprintable %s)", address, inst.Op)
	}

	return Decoded{Size: inst.Len, Text: text}, nil
}

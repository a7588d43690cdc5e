package decode

import (
	"strings"
	"testing"
)

func TestDecodeNop(t *testing.T) {
	d := NewDecoder(Mode64, Intel)
	got, err := d.Decode(0x1000, []byte{0x90, 0xcc, 0xcc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Size != 1 {
		t.Errorf("Size = %d, want 1", got.Size)
	}
	if !strings.Contains(got.Text, "NOP") {
		t.Errorf("Text = %q, want it to mention NOP", got.Text)
	}
}

func TestDecodeSyntaxToggle(t *testing.T) {
	ret := []byte{0xc3}

	intel, err := NewDecoder(Mode64, Intel).Decode(0x2000, ret)
	if err != nil {
		t.Fatalf("intel decode: %v", err)
	}
	gnu, err := NewDecoder(Mode64, GNU).Decode(0x2000, ret)
	if err != nil {
		t.Fatalf("gnu decode: %v", err)
	}
	if intel.Size != gnu.Size {
		t.Errorf("size disagreement between syntaxes: intel=%d gnu=%d", intel.Size, gnu.Size)
	}
}

func TestDecodeInvalidBytes(t *testing.T) {
	d := NewDecoder(Mode64, Intel)
	if _, err := d.Decode(0x3000, nil); err == nil {
		t.Errorf("expected an error decoding an empty buffer")
	}
}

func TestParseSyntax(t *testing.T) {
	if ParseSyntax("gnu") != GNU {
		t.Errorf("ParseSyntax(gnu) != GNU")
	}
	if ParseSyntax("intel") != Intel {
		t.Errorf("ParseSyntax(intel) != Intel")
	}
	if ParseSyntax("") != Intel {
		t.Errorf("ParseSyntax(\"\") should default to Intel")
	}
}

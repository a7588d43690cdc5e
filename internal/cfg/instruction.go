// Package cfg builds a control-flow graph from a linear stream of executed
// instructions. It owns every node it creates; callers only ever see
// pointers borrowed from the index.
package cfg

import "fmt"

// maxInstructionSize is the longest encoding a 32- or 64-bit x86 instruction
// can have.
const maxInstructionSize = 15

// Type is the coarse control-flow role of an instruction, assigned by
// Classify from its opcode bytes alone.
type Type uint8

const (
	Basic Type = iota
	Branch
	Call
	Jump
	Ret
)

func (t Type) String() string {
	switch t {
	case Basic:
		return "BASIC"
	case Branch:
		return "BRANCH"
	case Call:
		return "CALL"
	case Jump:
		return "JUMP"
	case Ret:
		return "RET"
	default:
		return "UNKNOWN"
	}
}

// Instruction is an immutable record of one executed instruction: where it
// sat in the address space, the bytes the CPU actually decoded there, and
// the control-flow role those bytes classify to.
//
// Two Instructions are the same iff they carry the same Address — see
// Index, which hashes on the bytes but compares on the address.
type Instruction struct {
	Address uint64
	Size    uint8
	opcodes [maxInstructionSize]byte
	Type    Type
}

// NewInstruction builds an Instruction from raw opcode bytes observed at
// address. It classifies the bytes itself; Type is never set by the caller.
func NewInstruction(address uint64, opcodes []byte) (Instruction, error) {
	size := len(opcodes)
	if size == 0 {
		return Instruction{}, fmt.Errorf("%w: zero-length opcode at %#x", ErrInvalidInstruction, address)
	}
	if size > maxInstructionSize {
		return Instruction{}, fmt.Errorf("%w: opcode length %d exceeds %d bytes at %#x", ErrInvalidInstruction, size, maxInstructionSize, address)
	}

	var buf [maxInstructionSize]byte
	copy(buf[:], opcodes)

	return Instruction{
		Address: address,
		Size:    uint8(size),
		opcodes: buf,
		Type:    Classify(opcodes),
	}, nil
}

// Bytes returns the opcode bytes this instruction was constructed from.
func (i Instruction) Bytes() []byte {
	return i.opcodes[:i.Size]
}

// FallthroughAddress is the address of the instruction immediately
// following this one in memory — the fall-through used to match CALL sites
// to returns and to find a CALL's internal successor in the block
// synthesizer.
func (i Instruction) FallthroughAddress() uint64 {
	return i.Address + uint64(i.Size)
}

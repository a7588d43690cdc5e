package cfg

import "encoding/binary"

// defaultBucketCount is the index's fixed bucket count: a power of two so
// bucket selection is a cheap mask-free modulo.
const defaultBucketCount = 1 << 16

const hashMultiplier = 0x880355f21e6d1965
const hashMixMultiplier = 0x2127598bf4325c37

// mix is one round of the fasthash-style avalanche used below.
func mix(h uint64) uint64 {
	h ^= h >> 23
	h *= hashMixMultiplier
	h ^= h >> 47
	return h
}

// instructionHash seeds a 64-bit fasthash-style mixer with the instruction's
// address and consumes its opcode bytes in 64-bit words, with a tail switch
// for the 1-7 residual bytes. The bytes dominate the spread; the address
// seed means two different addresses holding identical byte patterns still
// land differently enough to keep bucket chains short.
func instructionHash(address uint64, opcodes []byte) uint64 {
	h := address ^ (uint64(len(opcodes)) * hashMultiplier)

	for len(opcodes) >= 8 {
		k := binary.LittleEndian.Uint64(opcodes)
		h ^= mix(k)
		h *= hashMultiplier
		opcodes = opcodes[8:]
	}

	if len(opcodes) > 0 {
		var tail uint64
		for i := len(opcodes) - 1; i >= 0; i-- {
			tail = tail<<8 | uint64(opcodes[i])
		}
		h ^= mix(tail)
		h *= hashMultiplier
	}

	return mix(h)
}

// Index maps instruction identity (address, with opcode bytes folded into
// the hash) to the one CFG Node for that address. It owns every Node it
// holds; Nodes are created once and never removed for the life of the
// Index.
type Index struct {
	buckets    [][]*Node
	entries    int
	collisions int
}

// NewIndex returns an empty Index with the default bucket count.
func NewIndex() *Index {
	return &Index{buckets: make([][]*Node, defaultBucketCount)}
}

func (ix *Index) bucket(address uint64, opcodes []byte) int {
	return int(instructionHash(address, opcodes) % uint64(len(ix.buckets)))
}

// Lookup returns the node for address, if one has been inserted. opcodes
// must be the bytes the node was inserted with: they select the bucket,
// and only the address is compared within it.
func (ix *Index) Lookup(address uint64, opcodes []byte) (*Node, bool) {
	chain := ix.buckets[ix.bucket(address, opcodes)]
	for _, n := range chain {
		if n.Instruction.Address == address {
			return n, true
		}
	}
	return nil, false
}

// getOrCreate returns the existing node at instr.Address, or builds and
// inserts a new one. The second return value reports whether the node was
// newly created ("first-seen").
func (ix *Index) getOrCreate(instr Instruction, displayText string) (*Node, bool) {
	b := ix.bucket(instr.Address, instr.Bytes())
	for _, n := range ix.buckets[b] {
		if n.Instruction.Address == instr.Address {
			return n, false
		}
	}

	if len(ix.buckets[b]) > 0 {
		ix.collisions++
	}
	n := newNode(instr, displayText)
	ix.buckets[b] = append(ix.buckets[b], n)
	ix.entries++
	return n, true
}

// Entries is the number of distinct instructions observed so far.
func (ix *Index) Entries() int { return ix.entries }

// Collisions counts insertions that landed in an already-occupied bucket.
func (ix *Index) Collisions() int { return ix.collisions }

// BucketCount is the configured (fixed) bucket count.
func (ix *Index) BucketCount() int { return len(ix.buckets) }

package cfg

import "fmt"

// Builder drives a linear stream of executed instructions into a CFG. It is
// not safe for concurrent use: Observe is meant to be called sequentially
// from a single tracing loop, and every invariant documented on Node and
// Index holds after each completed call.
type Builder struct {
	index  *Index
	roster Roster
	shadow ShadowStack
	prev   *Node
}

// NewBuilder returns an empty Builder, ready to accept Observe calls.
func NewBuilder() *Builder {
	return &Builder{index: NewIndex()}
}

// Index is the instruction index backing this builder's CFG.
func (b *Builder) Index() *Index { return b.index }

// Roster is the ordered sequence of discovered function roots.
func (b *Builder) Roster() *Roster { return &b.roster }

// PendingCalls is the number of CALL sites currently awaiting a matching
// RET on the shadow stack.
func (b *Builder) PendingCalls() int { return b.shadow.Len() }

// Observe is the CFG builder's single driving operation: classify the
// bytes observed at address, install or reuse the node for that
// instruction, and wire the edge from whatever instruction executed
// immediately before it.
//
// A non-nil error is either ErrInvalidInstruction (bad input, nothing was
// mutated) or ErrClassificationInvariant (the classifier produced a node
// whose out-degree bound was violated; the graph up to the previous call
// is still valid and queryable, but the caller should stop tracing).
func (b *Builder) Observe(address uint64, opcodes []byte, displayText string) error {
	instr, err := NewInstruction(address, opcodes)
	if err != nil {
		return err
	}

	n, firstSeen := b.index.getOrCreate(instr, displayText)

	if b.prev == nil {
		n.FunctionTag = 0
		b.roster.push(n)
		b.prev = n
		return nil
	}

	p := b.prev

	if p.Instruction.Type == Call {
		b.shadow.push(p)
		if firstSeen {
			n.FunctionTag = b.roster.push(n)
		}
	}

	edgeFrom := p
	if p.Instruction.Type == Ret {
		if callSite, ok := b.shadow.top(); ok && n.Instruction.Address == callSite.Instruction.FallthroughAddress() {
			b.shadow.pop()
			edgeFrom = callSite
		}
	}

	if err := b.addEdge(edgeFrom, n); err != nil {
		return err
	}

	b.prev = n
	return nil
}

// addEdge installs the edge from → to, following the successor policy:
// the first edge from any non-RET node always lands in slot zero; beyond
// that, BASIC tolerates no second successor, BRANCH tolerates exactly two,
// and JUMP/CALL/RET grow without bound. Re-observing an edge that already
// exists is a no-op, not an error.
func (b *Builder) addEdge(from, to *Node) error {
	if from.hasSuccessor(to) {
		return nil
	}

	if from.OutDegree() == 0 && from.Instruction.Type != Ret {
		from.growAppend(to)
		return nil
	}

	switch from.Instruction.Type {
	case Basic:
		return fmt.Errorf("%w: BASIC instruction at %#x offered a second successor", ErrClassificationInvariant, from.Instruction.Address)
	case Branch:
		if from.OutDegree() >= 2 {
			return fmt.Errorf("%w: BRANCH instruction at %#x offered a third successor", ErrClassificationInvariant, from.Instruction.Address)
		}
		from.setSlot(from.OutDegree(), to)
	case Jump, Call, Ret:
		from.growAppend(to)
	}
	return nil
}

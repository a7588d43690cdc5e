package cfg

// untagged marks a Node whose function_tag has not yet been assigned.
// CALL targets receive a fresh tag before their first edge is wired, so
// addEdge only propagates the predecessor's tag when this sentinel is
// still in place.
const untagged = -1

// Node is the CFG's unit: one per unique Instruction, owned by the Index
// that created it. Successors grow with power-of-two capacity, never
// shrink, and are never deleted for the life of the Index.
type Node struct {
	Instruction Instruction
	InDegree    int
	FunctionTag int
	DisplayText string

	successors []*Node
}

func newNode(instr Instruction, displayText string) *Node {
	return &Node{
		Instruction: instr,
		FunctionTag: untagged,
		DisplayText: displayText,
	}
}

// OutDegree is the number of distinct successor edges installed so far.
func (n *Node) OutDegree() int {
	return len(n.successors)
}

// Capacity is the current successor slice capacity: zero before the first
// successor is installed, a power of two after that.
func (n *Node) Capacity() int {
	return cap(n.successors)
}

// Successors returns the node's successors in insertion order. Callers
// must not mutate the returned slice.
func (n *Node) Successors() []*Node {
	return n.successors
}

func (n *Node) hasSuccessor(target *Node) bool {
	for _, s := range n.successors {
		if s != nil && s.Instruction.Address == target.Instruction.Address {
			return true
		}
	}
	return false
}

// ensureCapacity grows the successor slice to the next power of two at
// least as large as needed, preserving existing entries.
func (n *Node) ensureCapacity(needed int) {
	if cap(n.successors) >= needed {
		return
	}
	newCap := cap(n.successors)
	if newCap == 0 {
		newCap = 1
	}
	for newCap < needed {
		newCap *= 2
	}
	grown := make([]*Node, len(n.successors), newCap)
	copy(grown, n.successors)
	n.successors = grown
}

// growAppend appends target as the next successor, doubling capacity
// whenever the slice is exactly full (which, under doubling growth, is
// exactly when out_degree is a power of two). It is a no-op if target is
// already a successor.
func (n *Node) growAppend(target *Node) {
	if n.hasSuccessor(target) {
		return
	}
	if len(n.successors) == cap(n.successors) {
		newCap := 1
		if cap(n.successors) > 0 {
			newCap = cap(n.successors) * 2
		}
		n.ensureCapacity(newCap)
	}
	n.successors = append(n.successors, target)
	target.InDegree++
	if n.FunctionTag != untagged && target.FunctionTag == untagged {
		target.FunctionTag = n.FunctionTag
	}
}

// setSlot places target at a specific successor index, used by BRANCH's
// two fixed slots. It is a no-op if target already occupies the slot.
func (n *Node) setSlot(slot int, target *Node) {
	n.ensureCapacity(slot + 1)
	for len(n.successors) <= slot {
		n.successors = append(n.successors, nil)
	}
	if n.successors[slot] == target {
		return
	}
	if n.successors[slot] == nil {
		target.InDegree++
	}
	n.successors[slot] = target
	if n.FunctionTag != untagged && target.FunctionTag == untagged {
		target.FunctionTag = n.FunctionTag
	}
}

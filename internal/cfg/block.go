package cfg

import "strings"

// BlockNode is one basic block in the synthesized block-level graph: a
// straight-line run of instructions with a single entry, ready for any
// directed-graph writer.
type BlockNode struct {
	ID    int
	Label string
	Edges []int
}

// BlockGraph is the block-level graph produced by Synthesize for one
// function root.
type BlockGraph struct {
	Blocks []BlockNode
}

// Synthesize walks the per-instruction CFG reachable from root and
// coalesces straight-line runs of BASIC/CALL nodes into basic blocks,
// splitting at control-flow joins and at BRANCH/JUMP. It does not touch
// the per-instruction CFG; it only reads it.
func Synthesize(root *Node) *BlockGraph {
	s := &blockSynth{
		functionRoot: root,
		blockOf:      make(map[uint64]int),
		graph:        &BlockGraph{},
	}
	s.blockFor(root)
	return s.graph
}

type blockSynth struct {
	functionRoot *Node
	blockOf      map[uint64]int
	graph        *BlockGraph
}

// blockFor returns the block ID rooted at blockRoot, building it (and
// everything it leads to) the first time this root is reached. The ID is
// reserved before recursing so that a back-edge reaching blockRoot again
// mid-construction resolves to the same ID instead of looping forever.
func (s *blockSynth) blockFor(blockRoot *Node) int {
	if id, ok := s.blockOf[blockRoot.Instruction.Address]; ok {
		return id
	}

	id := len(s.graph.Blocks)
	s.blockOf[blockRoot.Instruction.Address] = id
	s.graph.Blocks = append(s.graph.Blocks, BlockNode{ID: id})

	var lines []string
	cur := blockRoot

	for {
		lines = append(lines, cur.DisplayText)

		switch cur.Instruction.Type {
		case Basic:
			next := firstSuccessor(cur)
			if next == nil {
				s.finish(id, lines, nil)
				return id
			}
			if closed, done := s.closeOrContinue(id, lines, next); done {
				return closed
			}
			cur = next

		case Call:
			fallthroughNode := findFallthrough(cur)
			if fallthroughNode == nil {
				s.finish(id, lines, s.targetsFor(cur.Successors()))
				return id
			}
			if closed, done := s.closeOrContinue(id, lines, fallthroughNode); done {
				return closed
			}
			cur = fallthroughNode

		default: // Branch, Jump, Ret
			s.finish(id, lines, s.targetsFor(cur.Successors()))
			return id
		}
	}
}

// closeOrContinue implements the self-loop and join-point checks shared by
// the BASIC and CALL straight-line cases: if next would re-enter the
// function root, the block is closed with a fresh self-looping tail node;
// if next is a join point, the block is closed pointing at next's own
// block. Otherwise the caller should keep straight-lining into next.
func (s *blockSynth) closeOrContinue(id int, lines []string, next *Node) (int, bool) {
	if next.Instruction.Address == s.functionRoot.Instruction.Address {
		tail := s.emitTail()
		s.finish(id, lines, []int{tail})
		return id, true
	}
	if s.isJoin(next) {
		target := s.blockFor(next)
		s.finish(id, lines, []int{target})
		return id, true
	}
	return 0, false
}

func (s *blockSynth) isJoin(n *Node) bool {
	return n.Instruction.Address != s.functionRoot.Instruction.Address && n.InDegree > 1
}

// targetsFor resolves a BRANCH/JUMP/RET node's (or a fallthrough-less
// CALL's) successors into block IDs, substituting a fresh self-looping
// tail node for any successor that re-enters the function root, and
// suppressing duplicate edges to the same block.
func (s *blockSynth) targetsFor(successors []*Node) []int {
	var ids []int
	seen := make(map[int]bool)
	for _, succ := range successors {
		if succ == nil {
			continue
		}
		var id int
		if succ.Instruction.Address == s.functionRoot.Instruction.Address {
			id = s.emitTail()
		} else {
			id = s.blockFor(succ)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// emitTail appends a fresh block carrying the function root's own label
// and a self-edge, used wherever straight-lining or a branch/jump would
// otherwise re-enter the function root.
func (s *blockSynth) emitTail() int {
	id := len(s.graph.Blocks)
	s.graph.Blocks = append(s.graph.Blocks, BlockNode{
		ID:    id,
		Label: s.functionRoot.DisplayText,
		Edges: []int{id},
	})
	return id
}

func (s *blockSynth) finish(id int, lines []string, edges []int) {
	s.graph.Blocks[id] = BlockNode{
		ID:    id,
		Label: strings.Join(lines, "\n"),
		Edges: edges,
	}
}

func firstSuccessor(n *Node) *Node {
	for _, s := range n.Successors() {
		if s != nil {
			return s
		}
	}
	return nil
}

// findFallthrough returns call's successor whose address is the
// instruction immediately after call, if one has been observed.
func findFallthrough(call *Node) *Node {
	want := call.Instruction.FallthroughAddress()
	for _, s := range call.Successors() {
		if s != nil && s.Instruction.Address == want {
			return s
		}
	}
	return nil
}

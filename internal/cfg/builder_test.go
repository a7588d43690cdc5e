package cfg

import (
	"errors"
	"fmt"
	"testing"
)

// line builds a test display_text from the address, the raw bytes, and a
// human-readable tail, in the "<hex addr>  <hex bytes>  <mnemonic>
// <operands>" shape §3 specifies.
func line(address uint64, opcodes []byte, text string) string {
	return fmt.Sprintf("%#x  % x  %s", address, opcodes, text)
}

func mustObserve(t *testing.T, b *Builder, address uint64, opcodes []byte, text string) {
	t.Helper()
	if err := b.Observe(address, opcodes, line(address, opcodes, text)); err != nil {
		t.Fatalf("Observe(%#x) failed: %v", address, err)
	}
}

// S1 — linear basics.
func TestBuilderLinearBasics(t *testing.T) {
	b := NewBuilder()
	mustObserve(t, b, 0x1000, []byte{0x90}, "nop")
	mustObserve(t, b, 0x1001, []byte{0x90}, "nop")
	mustObserve(t, b, 0x1002, []byte{0xc3}, "ret")

	if got := b.Index().Entries(); got != 3 {
		t.Fatalf("Entries() = %d, want 3", got)
	}

	n1000, ok := b.Index().Lookup(0x1000, []byte{0x90})
	if !ok {
		t.Fatalf("node at 0x1000 not found")
	}
	n1001, ok := b.Index().Lookup(0x1001, []byte{0x90})
	if !ok {
		t.Fatalf("node at 0x1001 not found")
	}
	n1002, ok := b.Index().Lookup(0x1002, []byte{0xc3})
	if !ok {
		t.Fatalf("node at 0x1002 not found")
	}

	if n1000.Instruction.Type != Basic || n1001.Instruction.Type != Basic {
		t.Errorf("expected both nops to classify as BASIC")
	}
	if n1002.Instruction.Type != Ret {
		t.Errorf("expected 0x1002 to classify as RET")
	}

	if n1000.OutDegree() != 1 || n1000.Successors()[0] != n1001 {
		t.Errorf("expected edge 0x1000 -> 0x1001")
	}
	if n1001.OutDegree() != 1 || n1001.Successors()[0] != n1002 {
		t.Errorf("expected edge 0x1001 -> 0x1002")
	}

	if b.Roster().Len() != 1 {
		t.Fatalf("Roster().Len() = %d, want 1", b.Roster().Len())
	}
	root, _ := b.Roster().At(0)
	if root != n1000 {
		t.Errorf("roster[0] is not the 0x1000 node")
	}

	graph := Synthesize(root)
	if len(graph.Blocks) != 1 {
		t.Fatalf("expected a single block, got %d", len(graph.Blocks))
	}
	want := line(0x1000, []byte{0x90}, "nop") + "\n" +
		line(0x1001, []byte{0x90}, "nop") + "\n" +
		line(0x1002, []byte{0xc3}, "ret")
	if graph.Blocks[0].Label != want {
		t.Errorf("block label = %q, want %q", graph.Blocks[0].Label, want)
	}
	if len(graph.Blocks[0].Edges) != 0 {
		t.Errorf("expected no outgoing edges, got %v", graph.Blocks[0].Edges)
	}
}

// S2 — call/return.
func TestBuilderCallReturn(t *testing.T) {
	b := NewBuilder()
	call := []byte{0xe8, 0xfb, 0x0f, 0x00, 0x00} // 5-byte near relative call
	mustObserve(t, b, 0x1000, call, "call 0x2000")
	mustObserve(t, b, 0x2000, []byte{0x90}, "nop")
	mustObserve(t, b, 0x2001, []byte{0xc3}, "ret")
	mustObserve(t, b, 0x1005, []byte{0x90}, "nop")

	if got := b.Roster().Len(); got != 2 {
		t.Fatalf("Roster().Len() = %d, want 2", got)
	}
	root0, _ := b.Roster().At(0)
	root1, _ := b.Roster().At(1)
	if root0.Instruction.Address != 0x1000 {
		t.Errorf("roster[0] address = %#x, want 0x1000", root0.Instruction.Address)
	}
	if root1.Instruction.Address != 0x2000 {
		t.Errorf("roster[1] address = %#x, want 0x2000", root1.Instruction.Address)
	}

	if b.PendingCalls() != 0 {
		t.Errorf("PendingCalls() = %d, want 0 after matched return", b.PendingCalls())
	}

	callNode, _ := b.Index().Lookup(0x1000, call)
	nop2000, _ := b.Index().Lookup(0x2000, []byte{0x90})
	nop1005, _ := b.Index().Lookup(0x1005, []byte{0x90})

	if callNode.OutDegree() != 2 {
		t.Fatalf("call node out-degree = %d, want 2", callNode.OutDegree())
	}
	if callNode.Successors()[0] != nop2000 {
		t.Errorf("expected call's first successor to be the callee 0x2000")
	}
	if callNode.Successors()[1] != nop1005 {
		t.Errorf("expected call's second successor to be the fall-through 0x1005")
	}
}

// S3 — conditional branch, successors recorded in insertion order.
func TestBuilderConditionalBranch(t *testing.T) {
	b := NewBuilder()
	branch := []byte{0x74, 0x10} // jz, 2 bytes

	mustObserve(t, b, 0x3000, []byte{0x90}, "nop")
	mustObserve(t, b, 0x3001, branch, "jz 0x3100")
	mustObserve(t, b, 0x3100, []byte{0x90}, "nop taken")

	// rewind: the same dynamic site is hit again, this time falling through.
	mustObserve(t, b, 0x3000, []byte{0x90}, "nop")
	mustObserve(t, b, 0x3001, branch, "jz 0x3100")
	mustObserve(t, b, 0x3003, []byte{0x90}, "nop fallthrough")

	branchNode, _ := b.Index().Lookup(0x3001, branch)
	if branchNode.Instruction.Type != Branch {
		t.Fatalf("expected 0x3001 to classify as BRANCH")
	}
	if got := branchNode.OutDegree(); got != 2 {
		t.Fatalf("branch out-degree = %d, want 2", got)
	}
	taken, _ := b.Index().Lookup(0x3100, []byte{0x90})
	fallthroughNode, _ := b.Index().Lookup(0x3003, []byte{0x90})
	if branchNode.Successors()[0] != taken {
		t.Errorf("expected first successor to be the taken target 0x3100")
	}
	if branchNode.Successors()[1] != fallthroughNode {
		t.Errorf("expected second successor to be the fall-through 0x3003")
	}
}

// S4 — indirect jump divergence: four distinct targets, capacity grows in
// powers of two and does not grow again on the fourth insertion.
func TestBuilderIndirectJumpDivergence(t *testing.T) {
	b := NewBuilder()
	jump := []byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00} // indirect jmp, /4 approximation

	mustObserve(t, b, 0x4000, jump, "jmp *0x...")
	mustObserve(t, b, 0x5001, []byte{0x90}, "t1")

	mustObserve(t, b, 0x4000, jump, "jmp *0x...")
	jmpNode, _ := b.Index().Lookup(0x4000, jump)
	if got, want := jmpNode.Capacity(), 1; got != want {
		t.Fatalf("after 1st target: capacity = %d, want %d", got, want)
	}
	mustObserve(t, b, 0x5002, []byte{0x90}, "t2")
	if got, want := jmpNode.Capacity(), 2; got != want {
		t.Fatalf("after 2nd target: capacity = %d, want %d", got, want)
	}

	mustObserve(t, b, 0x4000, jump, "jmp *0x...")
	mustObserve(t, b, 0x5003, []byte{0x90}, "t3")
	if got, want := jmpNode.Capacity(), 4; got != want {
		t.Fatalf("after 3rd target: capacity = %d, want %d", got, want)
	}

	mustObserve(t, b, 0x4000, jump, "jmp *0x...")
	mustObserve(t, b, 0x5004, []byte{0x90}, "t4")
	if got, want := jmpNode.Capacity(), 4; got != want {
		t.Fatalf("after 4th target: capacity = %d, want %d (should not grow again)", got, want)
	}
	if got, want := jmpNode.OutDegree(), 4; got != want {
		t.Fatalf("OutDegree() = %d, want %d", got, want)
	}
}

// S6 — duplicate RET successor: running the same call/ret/fallthrough
// pattern twice adds no new edges and does not re-push the roster.
func TestBuilderDuplicateReturnEdgeIsIdempotent(t *testing.T) {
	b := NewBuilder()
	call := []byte{0xe8, 0x00, 0x00, 0x00, 0x00}
	run := func() {
		mustObserve(t, b, 0x1000, call, "call 0x2000")
		mustObserve(t, b, 0x2000, []byte{0x90}, "nop")
		mustObserve(t, b, 0x2001, []byte{0xc3}, "ret")
		mustObserve(t, b, 0x1005, []byte{0x90}, "nop")
	}

	run()
	rosterLenAfterFirst := b.Roster().Len()
	callNode, _ := b.Index().Lookup(0x1000, call)
	outDegreeAfterFirst := callNode.OutDegree()
	entriesAfterFirst := b.Index().Entries()

	run()

	if b.Roster().Len() != rosterLenAfterFirst {
		t.Errorf("Roster().Len() changed on re-run: got %d, want %d", b.Roster().Len(), rosterLenAfterFirst)
	}
	if callNode.OutDegree() != outDegreeAfterFirst {
		t.Errorf("call out-degree changed on re-run: got %d, want %d", callNode.OutDegree(), outDegreeAfterFirst)
	}
	if b.Index().Entries() != entriesAfterFirst {
		t.Errorf("Entries() changed on re-run: got %d, want %d", b.Index().Entries(), entriesAfterFirst)
	}
}

// Unmatched RET: empty shadow stack still gets an edge installed, degrading
// gracefully instead of erroring.
func TestBuilderUnmatchedReturn(t *testing.T) {
	b := NewBuilder()
	mustObserve(t, b, 0x6000, []byte{0xc3}, "ret")
	mustObserve(t, b, 0x7000, []byte{0x90}, "nop after unmatched ret")

	retNode, _ := b.Index().Lookup(0x6000, []byte{0xc3})
	if retNode.OutDegree() != 1 {
		t.Fatalf("unmatched RET out-degree = %d, want 1", retNode.OutDegree())
	}
	if b.PendingCalls() != 0 {
		t.Errorf("PendingCalls() = %d, want 0", b.PendingCalls())
	}
}

// Tail call: a CALL target is itself a RET; the shadow stack still pops
// correctly when the call site's fall-through is next observed.
func TestBuilderTailCallThroughRet(t *testing.T) {
	b := NewBuilder()
	call := []byte{0xe8, 0x00, 0x00, 0x00, 0x00}
	mustObserve(t, b, 0x1000, call, "call 0x2000")
	mustObserve(t, b, 0x2000, []byte{0xc3}, "ret") // callee is a single RET
	mustObserve(t, b, 0x1005, []byte{0x90}, "nop fallthrough")

	if b.PendingCalls() != 0 {
		t.Fatalf("PendingCalls() = %d, want 0", b.PendingCalls())
	}
	callNode, _ := b.Index().Lookup(0x1000, call)
	fallthroughNode, _ := b.Index().Lookup(0x1005, []byte{0x90})
	found := false
	for _, s := range callNode.Successors() {
		if s == fallthroughNode {
			found = true
		}
	}
	if !found {
		t.Errorf("expected call site to gain an edge to its fall-through")
	}
}

func TestBuilderRejectsInvalidInput(t *testing.T) {
	b := NewBuilder()
	if err := b.Observe(0x1000, nil, ""); !errors.Is(err, ErrInvalidInstruction) {
		t.Errorf("got err %v, want ErrInvalidInstruction", err)
	}
}

// Invariant: in_degree equals the number of distinct predecessors that
// list this node as a successor.
func TestInDegreeMatchesPredecessorCount(t *testing.T) {
	b := NewBuilder()
	jump := []byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00}
	mustObserve(t, b, 0x4000, jump, "jmp")
	mustObserve(t, b, 0x5000, []byte{0x90}, "target")
	mustObserve(t, b, 0x4000, jump, "jmp")
	mustObserve(t, b, 0x5000, []byte{0x90}, "target again, same edge")

	target, _ := b.Index().Lookup(0x5000, []byte{0x90})
	if target.InDegree != 1 {
		t.Errorf("InDegree = %d, want 1 (duplicate edge must not double-count)", target.InDegree)
	}
}

//go:build linux

// Package tracer launches a target program and single-steps it via Linux
// ptrace, yielding one (ip, opcode bytes) observation per instruction.
package tracer

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// maxOpcodeBytes bounds how much we peek past the instruction pointer on
// each step; x86 instructions are never longer than 15 bytes, so a modest
// margin beyond that covers any decoder lookahead.
const maxOpcodeBytes = 16

// Step is one observed instruction: the address it executed at and the
// raw bytes starting there.
type Step struct {
	Address uint64
	Opcodes []byte
}

// Tracer drives a traced child process one instruction at a time.
type Tracer struct {
	cmd   *exec.Cmd
	pid   int
	first bool
}

// Launch starts path under ptrace control with address-space layout
// randomization disabled, so repeated runs observe the same addresses.
// Personality must be set in the parent before Start: the flag is
// inherited across fork/exec, the same trick gdb and strace rely on.
func Launch(path string, args ...string) (*Tracer, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &unix.SysProcAttr{Ptrace: true}

	if _, _, errno := unix.Syscall(unix.SYS_PERSONALITY, unix.ADDR_NO_RANDOMIZE, 0, 0); errno != 0 {
		return nil, fmt.Errorf("tracer: disable ASLR: %w", errno)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("tracer: start %s: %w", path, err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(cmd.Process.Pid, &ws, 0, nil); err != nil {
		return nil, fmt.Errorf("tracer: initial wait: %w", err)
	}

	return &Tracer{cmd: cmd, pid: cmd.Process.Pid, first: true}, nil
}

// Pid returns the traced process id.
func (t *Tracer) Pid() int {
	return t.pid
}

// Step single-steps the target by exactly one instruction and returns the
// address it stopped at plus the raw bytes sitting there, ready for
// decode.Decoder. ok is false once the target has exited.
func (t *Tracer) Step() (Step, bool, error) {
	if err := unix.PtraceSingleStep(t.pid); err != nil {
		return Step{}, false, fmt.Errorf("tracer: single-step: %w", err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(t.pid, &ws, 0, nil); err != nil {
		return Step{}, false, fmt.Errorf("tracer: wait: %w", err)
	}
	if ws.Exited() || ws.Signaled() {
		return Step{}, false, nil
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.pid, &regs); err != nil {
		return Step{}, false, fmt.Errorf("tracer: getregs: %w", err)
	}
	ip := instructionPointer(&regs)

	buf := make([]byte, maxOpcodeBytes)
	n, err := unix.PtracePeekText(t.pid, uintptr(ip), buf)
	if err != nil {
		return Step{}, false, fmt.Errorf("tracer: peektext at %#x: %w", ip, err)
	}

	return Step{Address: ip, Opcodes: buf[:n]}, true, nil
}

// Detach releases the traced process, letting it run free.
func (t *Tracer) Detach() error {
	return unix.PtraceDetach(t.pid)
}

// Kill terminates the traced process outright.
func (t *Tracer) Kill() error {
	return t.cmd.Process.Kill()
}

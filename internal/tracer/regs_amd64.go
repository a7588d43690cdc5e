//go:build linux && amd64

package tracer

import "golang.org/x/sys/unix"

func instructionPointer(regs *unix.PtraceRegs) uint64 {
	return regs.Rip
}

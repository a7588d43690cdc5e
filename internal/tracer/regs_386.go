//go:build linux && 386

package tracer

import "golang.org/x/sys/unix"

func instructionPointer(regs *unix.PtraceRegs) uint64 {
	return uint64(regs.Eip)
}

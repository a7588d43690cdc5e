package cfg

import "errors"

// ErrInvalidInstruction is returned when Observe is given opcode bytes that
// cannot describe an instruction (zero length, or longer than an x86
// instruction can ever encode).
var ErrInvalidInstruction = errors.New("cfg: invalid instruction")

// ErrClassificationInvariant is returned when a node's declared out-degree
// bound is exceeded — a BASIC node offered a second distinct successor, or
// a BRANCH node offered a third. This indicates the classifier misclassified
// an instruction upstream; it is a programmer error, not a runtime
// condition, and the caller should stop feeding Observe.
var ErrClassificationInvariant = errors.New("cfg: classification invariant violated")

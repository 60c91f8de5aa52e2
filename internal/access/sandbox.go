package access

import "context"

// GuardedOp is an operation executed under a session's permission scope.
type GuardedOp func(*Session) (any, error)

// Sandbox executes a GuardedOp on behalf of an untrusted session. A real
// deployment would route this through a subprocess or container boundary;
// LocalSandbox below runs the operation directly and exists for
// development and testing, the same way the original service's in-process
// stub is documented to.
type Sandbox interface {
	Execute(ctx context.Context, session *Session, op GuardedOp) (any, error)
}

// LocalSandbox runs operations directly in the host process. It satisfies
// the Sandbox interface so the access layer can be exercised end to end
// without a real isolation boundary wired in.
type LocalSandbox struct{}

// Execute runs op directly against session.
func (LocalSandbox) Execute(ctx context.Context, session *Session, op GuardedOp) (any, error) {
	return op(session)
}

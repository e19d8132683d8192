package domain

import "fmt"

// Sentinel errors for the domain layer.
var (
	ErrStreamActive         = fmt.Errorf("stream session already active")
	ErrNoSession            = fmt.Errorf("no active stream session")
	ErrInitiation           = fmt.Errorf("stream initiation failed")
	ErrTransport            = fmt.Errorf("stream transport failed")
	ErrUpload               = fmt.Errorf("attachment upload failed")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrAuthInvalid          = fmt.Errorf("authentication failed")
	ErrRateLimit            = fmt.Errorf("rate limit exceeded")
	ErrGatewayUnavailable   = fmt.Errorf("gateway unavailable")
	ErrInvalidInput         = fmt.Errorf("invalid input")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "Engine.Submit")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error. Returns nil if err is nil,
// enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

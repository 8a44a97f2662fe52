package dispatch

import "errors"

var (
	ErrDuplicateOpcode    = errors.New("dispatch: opcode already registered")
	ErrRateLimited        = errors.New("dispatch: rate limited")
	ErrOverloaded         = errors.New("dispatch: concurrency limit exceeded")
	ErrForbidden          = errors.New("dispatch: insufficient permission")
	ErrEncryptionRequired = errors.New("dispatch: packet must be encrypted for this opcode")
	ErrWrongTransport     = errors.New("dispatch: opcode not allowed over this transport")
	ErrTimeout            = errors.New("dispatch: handler exceeded its deadline")
)

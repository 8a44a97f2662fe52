package packet

import "errors"

// Sentinel errors corresponding to the abstract error taxonomy: these
// are wrapped with context via fmt.Errorf("...: %w", ...) at call
// sites, so callers can still errors.Is against the sentinel.
var (
	ErrInvalidPacket     = errors.New("packet: invalid packet")
	ErrCompressionError  = errors.New("packet: compression error")
	ErrDecryptError      = errors.New("packet: decrypt error")
	ErrAlreadyEncrypted  = errors.New("packet: already encrypted")
	ErrNotEncrypted      = errors.New("packet: not encrypted")
	ErrNotCompressed     = errors.New("packet: not compressed")
	ErrNotSigned         = errors.New("packet: not signed")
	ErrInvalidKeyLength  = errors.New("packet: invalid key length for algorithm")
	ErrUnknownAlgorithm  = errors.New("packet: unknown algorithm")
	ErrBufferTooSmall    = errors.New("packet: destination buffer too small")
)

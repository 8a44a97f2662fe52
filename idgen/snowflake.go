// Package idgen generates snowflake-style 64-bit unique identifiers.
//
// Layout from the most significant bit: type(4) | machine(12) |
// timestamp(32, milliseconds since a configured epoch) | sequence(16).
package idgen

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	typeBits      = 4
	machineBits   = 12
	timestampBits = 32
	sequenceBits  = 16

	maxType      = 1<<typeBits - 1
	maxMachine   = 1<<machineBits - 1
	maxTimestamp = 1<<timestampBits - 1
	maxSequence  = 1<<sequenceBits - 1

	sequenceShift  = 0
	timestampShift = sequenceBits
	machineShift   = sequenceBits + timestampBits
	typeShift      = sequenceBits + timestampBits + machineBits
)

// ErrClockBackwards is returned when the generator observes a timestamp
// earlier than the last one it produced.
var ErrClockBackwards = errors.New("idgen: clock moved backwards")

// Clock supplies the current time in milliseconds. Production code uses
// SystemClock; tests supply a fake so timestamp rollover and
// clock-backwards handling are deterministic.
type Clock interface {
	NowMs() int64
}

// SystemClock is the real-time Clock backed by time.Now.
type SystemClock struct{}

// NowMs returns the current Unix time in milliseconds.
func (SystemClock) NowMs() int64 { return time.Now().UnixMilli() }

// Config configures a Generator.
type Config struct {
	Type      uint8 // 0..15
	MachineID uint16
	EpochMs   int64 // must be <= now
	Clock     Clock // defaults to SystemClock
}

// Generator produces strictly-increasing 64-bit ids for one
// (type, machine) pair under a mutex.
type Generator struct {
	mu            sync.Mutex
	typ           uint64
	machine       uint64
	epochMs       int64
	clock         Clock
	lastTimestamp int64
	sequence      uint32 // widened past 16 bits so overflow is detectable
}

// New validates cfg and returns a ready-to-use Generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Type > maxType {
		return nil, fmt.Errorf("idgen: type %d exceeds %d-bit range", cfg.Type, typeBits)
	}
	if cfg.MachineID > maxMachine {
		return nil, fmt.Errorf("idgen: machineId %d exceeds %d-bit range", cfg.MachineID, machineBits)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.EpochMs > clock.NowMs() {
		return nil, fmt.Errorf("idgen: epoch %d is in the future", cfg.EpochMs)
	}
	return &Generator{
		typ:           uint64(cfg.Type),
		machine:       uint64(cfg.MachineID),
		epochMs:       cfg.EpochMs,
		clock:         clock,
		lastTimestamp: -1,
	}, nil
}

// NewID returns the next id. It never regresses within one generator;
// a clock moving backwards relative to the last emitted id is reported
// as ErrClockBackwards rather than silently reused.
func (g *Generator) NewID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.clock.NowMs() - g.epochMs
	if ts < 0 || ts > maxTimestamp {
		return 0, fmt.Errorf("idgen: timestamp %d out of %d-bit range", ts, timestampBits)
	}

	switch {
	case ts < g.lastTimestamp:
		return 0, ErrClockBackwards
	case ts == g.lastTimestamp:
		g.sequence++
		if g.sequence > maxSequence {
			// Sequence space exhausted for this millisecond; busy-wait
			// the next tick rather than reuse (sequence, machine).
			for ts <= g.lastTimestamp {
				ts = g.clock.NowMs() - g.epochMs
			}
			g.sequence = 0
		}
	default:
		g.sequence = 0
	}
	g.lastTimestamp = ts

	id := (g.typ << typeShift) |
		(g.machine << machineShift) |
		(uint64(ts) << timestampShift) |
		(uint64(g.sequence) << sequenceShift)
	return id, nil
}

// Parsed holds the decoded fields of a generated id.
type Parsed struct {
	Type      uint8
	Machine   uint16
	Timestamp int64 // ms since the generator's configured epoch
	Sequence  uint16
	CreatedAt time.Time
}

// Parse decodes an id produced with the given epoch. The epoch is not
// recoverable from the id itself, so callers must supply the same one
// used at generation time.
func Parse(id uint64, epochMs int64) Parsed {
	typ := uint8((id >> typeShift) & maxType)
	machine := uint16((id >> machineShift) & maxMachine)
	ts := int64((id >> timestampShift) & maxTimestamp)
	seq := uint16((id >> sequenceShift) & maxSequence)
	return Parsed{
		Type:      typ,
		Machine:   machine,
		Timestamp: ts,
		Sequence:  seq,
		CreatedAt: time.UnixMilli(epochMs + ts),
	}
}

// Hex renders id as a zero-padded 16-character lowercase hex string.
func Hex(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

// ParseHex is the inverse of Hex.
func ParseHex(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscanf(s, "%016x", &id); err != nil {
		return 0, fmt.Errorf("idgen: invalid hex id %q: %w", s, err)
	}
	return id, nil
}

// Base64 renders id as a 12-character URL-safe base64 string (8 raw
// bytes, padded).
func Base64(id uint64) string {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (56 - 8*i))
	}
	return base64.URLEncoding.EncodeToString(buf[:])
}

// ParseBase64 is the inverse of Base64.
func ParseBase64(s string) (uint64, error) {
	buf, err := base64.URLEncoding.DecodeString(s)
	if err != nil || len(buf) != 8 {
		return 0, fmt.Errorf("idgen: invalid base64 id %q", s)
	}
	var id uint64
	for _, b := range buf {
		id = id<<8 | uint64(b)
	}
	return id, nil
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Base36 renders id in base36, zero-padded to at least 7 characters;
// the largest 64-bit values take 13 characters.
func Base36(id uint64) string {
	if id == 0 {
		return strings.Repeat("0", 7)
	}
	n := new(big.Int).SetUint64(id)
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)
	var out []byte
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, mod)
		out = append(out, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s := string(out)
	if len(s) < 7 {
		s = strings.Repeat("0", 7-len(s)) + s
	}
	return s
}

// ParseBase36 is the inverse of Base36.
func ParseBase36(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	n, ok := new(big.Int).SetString(s, 36)
	if !ok {
		return 0, fmt.Errorf("idgen: invalid base36 id %q", s)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("idgen: base36 id %q overflows 64 bits", s)
	}
	return n.Uint64(), nil
}

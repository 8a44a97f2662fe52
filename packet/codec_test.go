package packet

import (
	"encoding/binary"
	"testing"
)

func TestPrimarySerializeScenario(t *testing.T) {
	// End-to-end scenario 1 from the testable-properties section.
	p := Packet{
		Magic:     0x4E584C58,
		OpCode:    0x0101,
		Flags:     0,
		Priority:  1,
		Transport: TransportTCP,
		Payload:   []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	buf, err := PrimaryCodec{}.Serialize(p)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(buf) != 15 {
		t.Fatalf("len(buf) = %d, want 15", len(buf))
	}
	if buf[6] != 0x0F || buf[7] != 0x00 {
		t.Fatalf("length bytes = %x %x, want 0f 00", buf[6], buf[7])
	}
}

func TestPrimaryRoundTrip(t *testing.T) {
	codec := PrimaryCodec{}
	cases := []Packet{
		{Magic: MagicPrimary, OpCode: 1, Flags: 0, Priority: PriorityNormal, Transport: TransportTCP, Payload: nil},
		{Magic: MagicPrimary, OpCode: 0xFFFF, Flags: FlagReliable | FlagUrgentLike(), Priority: PriorityUrgent, Transport: TransportUDP, Payload: []byte("hello world")},
		{Magic: MagicPrimary, OpCode: 7, Flags: FlagCompressed, Priority: PriorityLow, Transport: TransportNone, Payload: make([]byte, 4096)},
	}
	for i, p := range cases {
		buf, err := codec.Serialize(p)
		if err != nil {
			t.Fatalf("case %d: Serialize: %v", i, err)
		}
		got, err := codec.Deserialize(buf)
		if err != nil {
			t.Fatalf("case %d: Deserialize: %v", i, err)
		}
		if got.OpCode != p.OpCode || got.Flags != p.Flags || got.Priority != p.Priority || got.Transport != p.Transport {
			t.Fatalf("case %d: header mismatch: got %+v, want %+v", i, got, p)
		}
		if string(got.Payload) != string(p.Payload) {
			t.Fatalf("case %d: payload mismatch", i)
		}
		length := binary.LittleEndian.Uint16(buf[6:8])
		if int(length) != len(buf) {
			t.Fatalf("case %d: length field %d != buf len %d", i, length, len(buf))
		}
	}
}

// FlagUrgentLike exists only to combine with Reliable in the table
// above without reusing FlagSigned/FlagEncrypted, which other tests
// reason about independently.
func FlagUrgentLike() Flag { return FlagAckRequired }

func TestTrySerializeTooSmall(t *testing.T) {
	p := Packet{OpCode: 1, Payload: []byte("0123456789")}
	dest := make([]byte, 5)
	ok, n := PrimaryCodec{}.TrySerialize(p, dest)
	if ok || n != 0 {
		t.Fatalf("TrySerialize(small dest) = (%v, %d), want (false, 0)", ok, n)
	}

	dest = make([]byte, HeaderSize+len(p.Payload))
	ok, n = PrimaryCodec{}.TrySerialize(p, dest)
	if !ok || n != len(dest) {
		t.Fatalf("TrySerialize(exact dest) = (%v, %d), want (true, %d)", ok, n, len(dest))
	}
}

func TestDeserializeRejectsBadLength(t *testing.T) {
	buf, _ := PrimaryCodec{}.Serialize(Packet{Payload: []byte("abc")})
	binary.LittleEndian.PutUint16(buf[6:8], 3) // below HeaderSize
	if _, err := (PrimaryCodec{}).Deserialize(buf); err == nil {
		t.Fatal("expected error for length below HeaderSize")
	}

	buf2, _ := PrimaryCodec{}.Serialize(Packet{Payload: []byte("abc")})
	binary.LittleEndian.PutUint16(buf2[6:8], uint16(len(buf2)+10))
	if _, err := (PrimaryCodec{}).Deserialize(buf2); err == nil {
		t.Fatal("expected error for length beyond buffer")
	}
}

func TestSerializeTooLargeFails(t *testing.T) {
	p := Packet{Payload: make([]byte, MaxPacketSize)}
	if _, err := (PrimaryCodec{}).Serialize(p); err == nil {
		t.Fatal("expected ErrInvalidPacket for oversized payload")
	}
}

func TestLegacyRoundTripWithChecksum(t *testing.T) {
	codec := LegacyCodec{WithChecksum: true}
	p := Packet{OpCode: 99, Flags: FlagReliable, Priority: PriorityHigh, Transport: TransportTCP, Payload: []byte("legacy payload")}

	buf, err := codec.Serialize(p)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !codec.VerifyChecksum(buf) {
		t.Fatal("VerifyChecksum() = false for freshly serialized buffer")
	}

	got, err := codec.Deserialize(buf)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if string(got.Payload) != string(p.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, p.Payload)
	}

	// Corrupt a payload byte; checksum must now fail.
	buf[len(buf)-1] ^= 0xFF
	if codec.VerifyChecksum(buf) {
		t.Fatal("VerifyChecksum() = true after corrupting payload")
	}
}

func TestLegacyWithoutChecksum(t *testing.T) {
	codec := LegacyCodec{WithChecksum: false}
	p := Packet{OpCode: 1, Payload: []byte("x")}
	buf, err := codec.Serialize(p)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(buf) != LegacyHeaderSize+1 {
		t.Fatalf("len(buf) = %d, want %d", len(buf), LegacyHeaderSize+1)
	}
	if codec.VerifyChecksum(buf) {
		t.Fatal("VerifyChecksum() = true for variant with no checksum field")
	}
}

func TestPeekLength(t *testing.T) {
	p := Packet{OpCode: 1, Payload: []byte("hello there")}

	primaryBuf, _ := PrimaryCodec{}.Serialize(p)
	n, err := PrimaryCodec{}.PeekLength(primaryBuf[:HeaderSize])
	if err != nil {
		t.Fatalf("PeekLength: %v", err)
	}
	if n != len(primaryBuf) {
		t.Fatalf("PeekLength = %d, want %d", n, len(primaryBuf))
	}

	legacy := LegacyCodec{WithChecksum: true}
	legacyBuf, _ := legacy.Serialize(p)
	n, err = legacy.PeekLength(legacyBuf[:legacy.HeaderSize()])
	if err != nil {
		t.Fatalf("PeekLength: %v", err)
	}
	if n != len(legacyBuf) {
		t.Fatalf("PeekLength = %d, want %d", n, len(legacyBuf))
	}
}

func TestCodecForMagic(t *testing.T) {
	if _, ok := CodecForMagic(MagicPrimary); !ok {
		t.Error("expected primary magic to resolve")
	}
	if _, ok := CodecForMagic(MagicLegacy); !ok {
		t.Error("expected legacy magic to resolve")
	}
	if _, ok := CodecForMagic(0xDEADBEEF); ok {
		t.Error("expected unknown magic to fail")
	}
}

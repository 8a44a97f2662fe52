package packet

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v3"
)

// CompressionAlgo selects the compression backend. The algorithm is a
// per-deployment/dispatcher constant, not carried on
// the wire, so Decompress must be called with the same algorithm
// Compress used.
type CompressionAlgo uint8

const (
	CompressionLZ4 CompressionAlgo = iota
	CompressionGZip
	CompressionDeflate
	CompressionBrotli
)

func (a CompressionAlgo) String() string {
	switch a {
	case CompressionLZ4:
		return "lz4"
	case CompressionGZip:
		return "gzip"
	case CompressionDeflate:
		return "deflate"
	case CompressionBrotli:
		return "brotli"
	default:
		return fmt.Sprintf("compression(%d)", uint8(a))
	}
}

// Compress replaces p's payload with its compressed form and sets
// FlagCompressed, provided len(payload) >= threshold. Packets below
// the threshold are returned unchanged.
func Compress(p Packet, algo CompressionAlgo, threshold int) (Packet, error) {
	if p.Flags.Has(FlagCompressed) {
		return p, nil
	}
	if len(p.Payload) < threshold {
		return p, nil
	}
	out, err := compressBytes(p.Payload, algo)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrCompressionError, err)
	}
	p.Payload = out
	p.Flags = p.Flags.Set(FlagCompressed)
	return p, nil
}

// Decompress reverses Compress. It fails with ErrNotCompressed if
// FlagCompressed is not set, or with ErrCompressionError on a
// malformed compressed stream.
func Decompress(p Packet, algo CompressionAlgo) (Packet, error) {
	if !p.Flags.Has(FlagCompressed) {
		return Packet{}, ErrNotCompressed
	}
	out, err := decompressBytes(p.Payload, algo)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrCompressionError, err)
	}
	p.Payload = out
	p.Flags = p.Flags.Clear(FlagCompressed)
	return p, nil
}

func compressBytes(data []byte, algo CompressionAlgo) ([]byte, error) {
	var buf bytes.Buffer
	switch algo {
	case CompressionLZ4:
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressionGZip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressionDeflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressionBrotli:
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownAlgorithm
	}
	return buf.Bytes(), nil
}

func decompressBytes(data []byte, algo CompressionAlgo) ([]byte, error) {
	var r io.Reader
	switch algo {
	case CompressionLZ4:
		r = lz4.NewReader(bytes.NewReader(data))
	case CompressionGZip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case CompressionDeflate:
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		r = fr
	case CompressionBrotli:
		r = brotli.NewReader(bytes.NewReader(data))
	default:
		return nil, ErrUnknownAlgorithm
	}
	return io.ReadAll(r)
}

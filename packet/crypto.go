package packet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/salsa20"
	"golang.org/x/crypto/xtea"
)

// EncryptionAlgo selects the symmetric cipher used by Encrypt/Decrypt.
// The core treats all of these as black-box ciphers; it defines no
// key-exchange or protocol semantics around them.
type EncryptionAlgo uint8

const (
	AlgoXTEA EncryptionAlgo = iota
	AlgoAES256GCM
	AlgoChaCha20Poly1305
	AlgoSalsa20
)

func (a EncryptionAlgo) String() string {
	switch a {
	case AlgoXTEA:
		return "xtea"
	case AlgoAES256GCM:
		return "aes-256-gcm"
	case AlgoChaCha20Poly1305:
		return "chacha20-poly1305"
	case AlgoSalsa20:
		return "salsa20"
	default:
		return fmt.Sprintf("encryption(%d)", uint8(a))
	}
}

// KeySize returns the required key length in bytes for algo.
func (a EncryptionAlgo) KeySize() int {
	switch a {
	case AlgoXTEA:
		return 16
	case AlgoAES256GCM:
		return 32
	case AlgoChaCha20Poly1305:
		return chacha20poly1305.KeySize
	case AlgoSalsa20:
		return 32
	default:
		return 0
	}
}

// Encrypt replaces p's payload with ciphertext under key using algo,
// and sets FlagEncrypted. It fails with ErrAlreadyEncrypted if the
// flag is already set, or ErrInvalidKeyLength if len(key) doesn't
// match algo.
func Encrypt(p Packet, key []byte, algo EncryptionAlgo) (Packet, error) {
	if p.Flags.Has(FlagEncrypted) {
		return Packet{}, ErrAlreadyEncrypted
	}
	if len(key) != algo.KeySize() {
		return Packet{}, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrInvalidKeyLength, algo, algo.KeySize(), len(key))
	}
	out, err := encryptBytes(p.Payload, key, algo)
	if err != nil {
		return Packet{}, err
	}
	p.Payload = out
	p.Flags = p.Flags.Set(FlagEncrypted)
	return p, nil
}

// Decrypt reverses Encrypt, clearing FlagEncrypted. It fails with
// ErrNotEncrypted if the flag isn't set, or ErrDecryptError on an
// authentication failure (AEAD algorithms) or malformed ciphertext.
func Decrypt(p Packet, key []byte, algo EncryptionAlgo) (Packet, error) {
	if !p.Flags.Has(FlagEncrypted) {
		return Packet{}, ErrNotEncrypted
	}
	if len(key) != algo.KeySize() {
		return Packet{}, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrInvalidKeyLength, algo, algo.KeySize(), len(key))
	}
	out, err := decryptBytes(p.Payload, key, algo)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrDecryptError, err)
	}
	p.Payload = out
	p.Flags = p.Flags.Clear(FlagEncrypted)
	return p, nil
}

func encryptBytes(data, key []byte, algo EncryptionAlgo) ([]byte, error) {
	switch algo {
	case AlgoAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, err
		}
		return gcm.Seal(nonce, nonce, data, nil), nil

	case AlgoChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, err
		}
		return aead.Seal(nonce, nonce, data, nil), nil

	case AlgoSalsa20:
		var nonce [8]byte
		if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
			return nil, err
		}
		var key32 [32]byte
		copy(key32[:], key)
		out := make([]byte, len(data))
		salsa20.XORKeyStream(out, data, nonce[:], &key32)
		return append(nonce[:], out...), nil

	case AlgoXTEA:
		block, err := xtea.NewCipher(key)
		if err != nil {
			return nil, err
		}
		iv := make([]byte, block.BlockSize())
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return nil, err
		}
		padded := pkcs7Pad(data, block.BlockSize())
		ciphertext := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
		return append(iv, ciphertext...), nil

	default:
		return nil, ErrUnknownAlgorithm
	}
}

func decryptBytes(data, key []byte, algo EncryptionAlgo) ([]byte, error) {
	switch algo {
	case AlgoAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		if len(data) < gcm.NonceSize() {
			return nil, fmt.Errorf("ciphertext shorter than nonce")
		}
		nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
		return gcm.Open(nil, nonce, ct, nil)

	case AlgoChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}
		if len(data) < aead.NonceSize() {
			return nil, fmt.Errorf("ciphertext shorter than nonce")
		}
		nonce, ct := data[:aead.NonceSize()], data[aead.NonceSize():]
		return aead.Open(nil, nonce, ct, nil)

	case AlgoSalsa20:
		if len(data) < 8 {
			return nil, fmt.Errorf("ciphertext shorter than nonce")
		}
		nonce, ct := data[:8], data[8:]
		var key32 [32]byte
		copy(key32[:], key)
		out := make([]byte, len(ct))
		salsa20.XORKeyStream(out, ct, nonce, &key32)
		return out, nil

	case AlgoXTEA:
		block, err := xtea.NewCipher(key)
		if err != nil {
			return nil, err
		}
		bs := block.BlockSize()
		if len(data) < bs || (len(data)-bs)%bs != 0 {
			return nil, fmt.Errorf("ciphertext not block-aligned")
		}
		iv, ct := data[:bs], data[bs:]
		plain := make([]byte, len(ct))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
		return pkcs7Unpad(plain, bs)

	default:
		return nil, ErrUnknownAlgorithm
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid pad length %d", padLen)
	}
	return data[:len(data)-padLen], nil
}

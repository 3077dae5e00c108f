// Package crypt recovers obfuscated string payloads: AES-256-CBC with the
// fixed all-zero IV the source format uses, PKCS#7 unpadding with full
// integrity validation, and base64 pre-checks that tell intentionally
// plaintext tokens apart from encrypted ones.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/joshuapare/artifactkit/pkg/types"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// The IV is all zeroes by definition of the on-disk format. It is not
// configurable: compatibility requires reproducing it exactly.
var zeroIV [aes.BlockSize]byte

// Decrypt decrypts ciphertext with AES-256-CBC and the fixed zero IV.
// Padding is not removed; see RemovePKCS7Padding.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypt: key is %d bytes, need %d", len(key), KeySize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("crypt: ciphertext length %d is not a multiple of the block size",
			len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, zeroIV[:]).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

// Encrypt is the inverse of Decrypt. It exists for building test vectors
// and synthetic fixtures; input must already be padded to the block size.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypt: key is %d bytes, need %d", len(key), KeySize)
	}
	if len(plaintext) == 0 || len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("crypt: plaintext length %d is not a multiple of the block size",
			len(plaintext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, zeroIV[:]).CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

// AddPKCS7Padding pads data to a multiple of blockSize.
func AddPKCS7Padding(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// RemovePKCS7Padding validates and strips PKCS#7 padding. The final byte
// must be a padding length in [1, blockSize] and every one of the trailing
// padding bytes must equal it; any mismatch fails with ErrInvalidPadding
// naming the offending byte. Invalid padding is never silently stripped.
func RemovePKCS7Padding(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("crypt: data length %d is not a multiple of block size %d: %w",
			len(data), blockSize, types.ErrInvalidPadding)
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > blockSize {
		return nil, fmt.Errorf("crypt: padding length byte %d out of range [1,%d]: %w",
			padLen, blockSize, types.ErrInvalidPadding)
	}
	for i := len(data) - padLen; i < len(data); i++ {
		if data[i] != byte(padLen) {
			return nil, fmt.Errorf("crypt: padding byte at offset %d is 0x%02X, expected 0x%02X: %w",
				i, data[i], padLen, types.ErrInvalidPadding)
		}
	}
	return data[:len(data)-padLen], nil
}

package crypt

import (
	"crypto/aes"
	"encoding/base64"
	"fmt"
	"unicode/utf8"
)

// minObfuscatedLen is one AES block of ciphertext in base64 (no padding
// characters appear in shorter tokens).
const minObfuscatedLen = 22

// looksObfuscated applies the charset and length pre-checks that separate
// encrypted tokens from intentionally plaintext values. The on-disk format
// carries no marker, so a value failing any pre-check must be passed
// through unmodified rather than attempted.
func looksObfuscated(value string) bool {
	if len(value) < minObfuscatedLen || len(value)%4 != 0 {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+' || c == '/':
		case c == '=':
			// Padding only at the tail.
			for j := i; j < len(value); j++ {
				if value[j] != '=' {
					return false
				}
			}
			return len(value)-i <= 2
		default:
			return false
		}
	}
	return true
}

// UnwrapString recovers an obfuscated string value. It returns the
// plaintext and unwrapped=true when value was an encrypted token;
// value itself and unwrapped=false when the pre-checks say it is plain; and
// an error when the token decodes but decryption or padding validation
// fails (the value is then unrecoverable, but the container continues).
func UnwrapString(value string, key []byte) (out string, unwrapped bool, err error) {
	if !looksObfuscated(value) {
		return value, false, nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		// Base64-shaped but not a whole number of cipher blocks: plaintext.
		return value, false, nil
	}
	plain, err := Decrypt(raw, key)
	if err != nil {
		return "", false, fmt.Errorf("crypt: unwrap: %w", err)
	}
	plain, err = RemovePKCS7Padding(plain, aes.BlockSize)
	if err != nil {
		return "", false, fmt.Errorf("crypt: unwrap: %w", err)
	}
	if !utf8.Valid(plain) {
		return "", false, fmt.Errorf("crypt: unwrap: decrypted value is not valid UTF-8")
	}
	return string(plain), true, nil
}

// Package ecb implements AES-128 in electronic-codebook mode with PKCS#7
// padding, the block cipher wrapping used by NCM containers.
package ecb

import (
	"crypto/aes"
	"errors"
	"fmt"
)

// ErrCipher is returned when ciphertext is not block aligned or its padding is inconsistent.
var ErrCipher = errors.New("ecb: cipher error")

// BlockSize is the AES block size in bytes.
const BlockSize = aes.BlockSize

// Decrypt decrypts data block by block with key and strips PKCS#7 padding.
// The returned slice never aliases data.
func Decrypt(key [16]byte, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of %d", ErrCipher, len(data), BlockSize)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipher, err)
	}

	decrypted := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		block.Decrypt(decrypted[i:i+BlockSize], data[i:i+BlockSize])
	}

	return unpad(decrypted)
}

// Encrypt pads data with PKCS#7 and encrypts it block by block with key.
func Encrypt(key [16]byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipher, err)
	}

	padded := pad(data)
	encrypted := make([]byte, len(padded))
	for i := 0; i < len(padded); i += BlockSize {
		block.Encrypt(encrypted[i:i+BlockSize], padded[i:i+BlockSize])
	}

	return encrypted, nil
}

func pad(src []byte) []byte {
	n := BlockSize - len(src)%BlockSize
	out := make([]byte, len(src)+n)
	copy(out, src)
	for i := len(src); i < len(out); i++ {
		out[i] = byte(n)
	}

	return out
}

func unpad(src []byte) ([]byte, error) {
	n := int(src[len(src)-1])
	if n == 0 || n > BlockSize {
		return nil, fmt.Errorf("%w: invalid padding value %d", ErrCipher, n)
	}

	for _, b := range src[len(src)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent padding", ErrCipher)
		}
	}

	return src[:len(src)-n], nil
}

// Package cryptox implements the symmetric cipher used for stored files:
// AES-128 in CBC mode with PKCS#7 padding. Functions are pure; the caller owns
// key management and must supply a fresh IV per encryption.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/dmitrijs2005/securedocs/internal/common"
)

// NewIV returns a random initialization vector of one AES block.
func NewIV() ([]byte, error) {
	iv := make([]byte, common.IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	return iv, nil
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != common.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrorValidation, common.KeySize, len(key))
	}
	if len(iv) != common.IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", common.ErrorValidation, common.IVSize, len(iv))
	}
	return aes.NewCipher(key)
}

// Encrypt pads plaintext and encrypts it with AES-CBC. The result is always a
// non-empty multiple of the block size, even for empty input.
func Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}

	padded := Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

// Decrypt reverses Encrypt. Truncated input, input that is not a multiple of
// the block size, and malformed padding all yield common.ErrorCorruption;
// no partial plaintext is ever returned.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d",
			common.ErrorCorruption, len(ciphertext), aes.BlockSize)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	out, err := Unpad(plaintext, aes.BlockSize)
	if err != nil {
		common.WipeByteArray(plaintext)
		return nil, err
	}
	return out, nil
}

// Pad appends PKCS#7 padding. A full block of padding is added when the input
// is already block aligned.
func Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// Unpad validates and strips PKCS#7 padding.
func Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padded length %d", common.ErrorCorruption, len(b))
	}

	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("%w: bad padding", common.ErrorCorruption)
	}

	want := make([]byte, n)
	for i := range want {
		want[i] = byte(n)
	}
	if subtle.ConstantTimeCompare(b[len(b)-n:], want) != 1 {
		return nil, fmt.Errorf("%w: bad padding", common.ErrorCorruption)
	}

	return b[:len(b)-n], nil
}

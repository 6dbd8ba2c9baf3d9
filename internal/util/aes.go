package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

const (
	AESKeySize = 32
	AESIVSize  = aes.BlockSize
)

// ErrInvalidPadding is returned when PKCS#7 padding does not verify.
var ErrInvalidPadding = errors.New("invalid padding")

// EncryptAESCBC encrypts plainText with AES-256-CBC under rawKey using a
// fresh random IV. It returns the IV and the PKCS#7 padded ciphertext.
func EncryptAESCBC(plainText, rawKey []byte) (iv, cipherText []byte, err error) {
	if len(rawKey) != AESKeySize {
		return nil, nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	iv = make([]byte, AESIVSize)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("generating IV: %w", err)
	}

	padded := PadPKCS7(plainText, aes.BlockSize)
	cipherText = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherText, padded)
	WipeBytes(padded)

	return iv, cipherText, nil
}

// DecryptAESCBC reverses EncryptAESCBC.
func DecryptAESCBC(iv, cipherText, rawKey []byte) ([]byte, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	if len(iv) != AESIVSize {
		return nil, fmt.Errorf("invalid IV size: got %d, want %d", len(iv), AESIVSize)
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(cipherText))
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	plainText := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainText, cipherText)

	unpadded, err := UnpadPKCS7(plainText, aes.BlockSize)
	if err != nil {
		WipeBytes(plainText)
		return nil, err
	}
	return unpadded, nil
}

// PadPKCS7 returns a new slice holding b followed by PKCS#7 padding.
func PadPKCS7(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// UnpadPKCS7 strips PKCS#7 padding. The padding bytes are inspected in
// constant time with respect to their values.
func UnpadPKCS7(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])

	good := subtle.ConstantTimeLessOrEq(1, n) & subtle.ConstantTimeLessOrEq(n, blockSize)
	if good == 0 {
		return nil, ErrInvalidPadding
	}
	for i := 0; i < blockSize; i++ {
		inPad := subtle.ConstantTimeLessOrEq(i+1, n)
		match := subtle.ConstantTimeByteEq(b[len(b)-1-i], byte(n))
		// Bytes inside the pad must equal n; bytes outside are ignored.
		good &= subtle.ConstantTimeSelect(inPad, match, 1)
	}
	if good == 0 {
		return nil, ErrInvalidPadding
	}
	return b[:len(b)-n], nil
}

package crypto

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/jmcleod/sealedsession/internal/util"
)

// ErrFormat is the only error Decode returns for undecodable input. A wrong
// secret, tampered data and garbage all map to it.
var ErrFormat = errors.New("malformed or undecryptable token")

const separator = ":"

// Encode encrypts plaintext under the key derived from secret. The result is
// hex(IV) + ":" + hex(ciphertext) with a fresh random IV on every call.
func Encode(plaintext string, secret []byte) (string, error) {
	key := DeriveKey(secret)
	defer util.WipeBytes(key)
	return EncodeKey(plaintext, key)
}

// Decode reverses Encode.
func Decode(token string, secret []byte) (string, error) {
	key := DeriveKey(secret)
	defer util.WipeBytes(key)
	return DecodeKey(token, key)
}

// EncodeKey is Encode with an already derived key.
func EncodeKey(plaintext string, key []byte) (string, error) {
	iv, ct, err := util.EncryptAESCBC([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return util.HexEncode(iv) + separator + util.HexEncode(ct), nil
}

// DecodeKey is Decode with an already derived key. Everything after the
// first ":" is treated as ciphertext.
func DecodeKey(token string, key []byte) (string, error) {
	iv, ct, ok := split(token)
	if !ok {
		return "", ErrFormat
	}
	pt, err := util.DecryptAESCBC(iv, ct, key)
	if err != nil {
		return "", ErrFormat
	}
	defer util.WipeBytes(pt)
	if !utf8.Valid(pt) {
		return "", ErrFormat
	}
	return string(pt), nil
}

// WellFormed reports whether token has the structure Encode produces. It does
// not decrypt anything.
func WellFormed(token string) bool {
	_, _, ok := split(token)
	return ok
}

func split(token string) (iv, ct []byte, ok bool) {
	ivHex, ctHex, found := strings.Cut(token, separator)
	if !found {
		return nil, nil, false
	}
	iv, err := util.HexDecode(ivHex)
	if err != nil || len(iv) != util.AESIVSize {
		return nil, nil, false
	}
	ct, err = util.HexDecode(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%util.AESIVSize != 0 {
		return nil, nil, false
	}
	return iv, ct, true
}

// Package crypto implements the token primitives: master-secret key
// derivation, the AES-256-CBC string cipher and the salted secret hashers.
package crypto

import (
	"crypto/sha256"

	"github.com/jmcleod/sealedsession/internal/util"
)

// KeySize is the length in bytes of keys returned by DeriveKey.
const KeySize = util.AESKeySize

// DeriveKey turns a master secret into a 32-byte AES-256 key: the SHA-256
// of the secret's exact bytes. Secrets that differ in any byte derive
// different keys.
func DeriveKey(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

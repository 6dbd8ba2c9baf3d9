package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

type Argon2idParams struct {
	Time        uint32 `json:"time" yaml:"time"`
	MemoryKiB   uint32 `json:"memory" yaml:"memory"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	KeyLen      uint32 `json:"key_len" yaml:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// ValidateArgon2idParams rejects parameter sets that argon2.IDKey would
// accept but that are useless for hashing secrets.
func ValidateArgon2idParams(params Argon2idParams) error {
	if params.Time == 0 {
		return fmt.Errorf("argon2id time must be at least 1")
	}
	if params.Parallelism == 0 {
		return fmt.Errorf("argon2id parallelism must be at least 1")
	}
	if params.MemoryKiB < 8*uint32(params.Parallelism) {
		return fmt.Errorf("argon2id memory must be at least 8 KiB per lane")
	}
	if params.KeyLen < 16 {
		return fmt.Errorf("argon2id key length must be at least 16 bytes")
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

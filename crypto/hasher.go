package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/sealedsession/internal/util"
)

// Hasher produces and checks salted one-way hashes of session secrets.
// Hash output must never contain the "|" character.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(candidate, hash string) bool
}

// DefaultBcryptCost matches the work factor used for secrets since the
// first version of the token format.
const DefaultBcryptCost = 10

// BcryptHasher hashes secrets with bcrypt. Inputs longer than 72 bytes are
// rejected by the bcrypt package.
type BcryptHasher struct {
	Cost int
}

var _ Hasher = BcryptHasher{}

// NewBcryptHasher returns a BcryptHasher with the given cost, or
// DefaultBcryptCost when cost is zero.
func NewBcryptHasher(cost int) (BcryptHasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return BcryptHasher{}, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return BcryptHasher{Cost: cost}, nil
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(out), nil
}

// Verify uses bcrypt's constant-time comparison.
func (h BcryptHasher) Verify(candidate, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// Argon2idParams configures Argon2idHasher.
type Argon2idParams = util.Argon2idParams

// DefaultArgon2idParams returns the recommended Argon2id parameters.
func DefaultArgon2idParams() Argon2idParams {
	return util.DefaultArgon2idParams()
}

const (
	argon2idSaltLen = 16

	// Upper bounds on parameters accepted from an encoded hash.
	argon2idMaxMemoryKiB = 1 << 20
	argon2idMaxTime      = 16
	argon2idMaxKeyLen    = 64
)

var errArgon2idEncoding = errors.New("invalid argon2id hash encoding")

// Argon2idHasher hashes secrets with Argon2id and encodes the result as
// $argon2id$v=19$m=<KiB>,t=<time>,p=<lanes>$<salt>$<key>.
type Argon2idHasher struct {
	Params Argon2idParams
}

var _ Hasher = Argon2idHasher{}

func (h Argon2idHasher) params() Argon2idParams {
	if h.Params == (Argon2idParams{}) {
		return DefaultArgon2idParams()
	}
	return h.Params
}

func (h Argon2idHasher) Hash(secret string) (string, error) {
	params := h.params()
	salt, err := util.RandomBytes(argon2idSaltLen)
	if err != nil {
		return "", err
	}
	key, err := util.DeriveArgon2idKey(secret, salt, params)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify re-derives the key with the parameters stored in hash, so hashes
// made under older parameters keep verifying.
func (h Argon2idHasher) Verify(candidate, hash string) bool {
	params, salt, key, err := parseArgon2id(hash)
	if err != nil {
		return false
	}
	ok, err := util.CompareArgon2idKey(candidate, salt, params, key)
	return err == nil && ok
}

func parseArgon2id(s string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, errArgon2idEncoding
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2idParams{}, nil, nil, errArgon2idEncoding
	}
	var p Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Parallelism); err != nil ||
		p.MemoryKiB > argon2idMaxMemoryKiB || p.Time > argon2idMaxTime {
		return Argon2idParams{}, nil, nil, errArgon2idEncoding
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, errArgon2idEncoding
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) > argon2idMaxKeyLen {
		return Argon2idParams{}, nil, nil, errArgon2idEncoding
	}
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}

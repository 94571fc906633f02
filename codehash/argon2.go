package codehash

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minCodeDigits         = 4
	maxCodeDigits         = 10
	algorithmID           = "argon2id"
)

var (
	// ErrInvalidCode is returned when the input is not a 4-10 digit code.
	ErrInvalidCode = errors.New("code must be 4-10 ascii digits")
	// ErrInvalidHash is returned for malformed PHC strings.
	ErrInvalidHash = errors.New("invalid PHC format")
)

// Config holds Argon2id cost parameters. Pepper, when set, is an HMAC key
// applied to the code before derivation so a leaked store alone is not
// enough to brute-force the small code space offline.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	Pepper      []byte
}

// Hasher derives and checks Argon2id hashes of numeric one-time codes.
type Hasher struct {
	config Config
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Pepper) > 0 {
		cfg.Pepper = append([]byte(nil), cfg.Pepper...)
	}
	return &Hasher{config: cfg}, nil
}

// Hash returns the PHC-encoded Argon2id hash of code:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
func (h *Hasher) Hash(code string) (string, error) {
	if err := validateCode(code); err != nil {
		return "", err
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		h.input(code),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the hash for code with the parameters stored in
// encodedHash and compares in constant time. A malformed code is simply a
// mismatch.
func (h *Hasher) Verify(code string, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	if validateCode(code) != nil {
		return false, nil
	}

	computed := argon2.IDKey(
		h.input(code),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func (h *Hasher) input(code string) []byte {
	if len(h.config.Pepper) == 0 {
		return []byte(code)
	}
	mac := hmac.New(sha256.New, h.config.Pepper)
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

func validateCode(code string) error {
	if len(code) < minCodeDigits || len(code) > maxCodeDigits {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrInvalidCode
		}
	}
	return nil
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrInvalidHash
	}

	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrInvalidHash)
	}

	versionPart := parts[2]
	if !strings.HasPrefix(versionPart, "v=") {
		return nil, fmt.Errorf("%w: missing argon2 version", ErrInvalidHash)
	}
	version, err := strconv.Atoi(strings.TrimPrefix(versionPart, "v="))
	if err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version", ErrInvalidHash)
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: invalid salt", ErrInvalidHash)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) < int(minKeyLength) {
		return nil, fmt.Errorf("%w: invalid hash", ErrInvalidHash)
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, fmt.Errorf("%w: invalid parameter format", ErrInvalidHash)
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             parsedParams
	)

	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: invalid parameter entry", ErrInvalidHash)
		}

		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return nil, fmt.Errorf("%w: invalid memory parameter", ErrInvalidHash)
			}
			params.memory = uint32(n)
			memorySet = true
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minTimeCost) {
				return nil, fmt.Errorf("%w: invalid time parameter", ErrInvalidHash)
			}
			params.time = uint32(n)
			timeSet = true
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return nil, fmt.Errorf("%w: invalid parallelism parameter", ErrInvalidHash)
			}
			params.parallelism = uint8(n)
			parallelismSet = true
		default:
			return nil, fmt.Errorf("%w: unsupported parameter", ErrInvalidHash)
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, fmt.Errorf("%w: missing parameters", ErrInvalidHash)
	}

	return &params, nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("code hash memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("code hash time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("code hash parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("code hash salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("code hash key length must be >= 16")
	}
	return nil
}

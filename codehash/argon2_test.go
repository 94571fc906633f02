package codehash

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	h, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	hash, err := h.Hash("483920")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if strings.Contains(hash, "483920") {
		t.Fatal("hash must not contain the plaintext code")
	}

	ok, err := h.Verify("483920", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected code verification to succeed")
	}
}

func TestVerifyWrongCode(t *testing.T) {
	h, _ := New(fastConfig())
	hash, _ := h.Hash("111111")

	for _, code := range []string{"111112", "11111", "abcdef", ""} {
		ok, err := h.Verify(code, hash)
		if err != nil {
			t.Fatalf("Verify(%q) error: %v", code, err)
		}
		if ok {
			t.Fatalf("expected %q to mismatch", code)
		}
	}
}

func TestHashesAreSalted(t *testing.T) {
	h, _ := New(fastConfig())
	a, _ := h.Hash("123456")
	b, _ := h.Hash("123456")
	if a == b {
		t.Fatal("expected distinct hashes for the same code")
	}
}

func TestPepperChangesDerivation(t *testing.T) {
	cfg := fastConfig()
	cfg.Pepper = []byte("server-side-pepper")
	peppered, _ := New(cfg)
	plain, _ := New(fastConfig())

	hash, err := peppered.Hash("654321")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if ok, _ := peppered.Verify("654321", hash); !ok {
		t.Fatal("peppered hasher should verify its own hash")
	}
	if ok, _ := plain.Verify("654321", hash); ok {
		t.Fatal("hasher without pepper must not verify a peppered hash")
	}
}

func TestHashRejectsNonNumericCode(t *testing.T) {
	h, _ := New(fastConfig())
	for _, code := range []string{"12a456", "123", "12345678901"} {
		if _, err := h.Hash(code); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("Hash(%q) expected ErrInvalidCode, got %v", code, err)
		}
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h, _ := New(fastConfig())
	cases := []string{
		"",
		"plain",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
	}
	for _, c := range cases {
		if _, err := h.Verify("123456", c); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q) expected ErrInvalidHash, got %v", c, err)
		}
	}
}

func TestNewRejectsWeakConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Memory = 1024
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for low memory")
	}
	cfg = fastConfig()
	cfg.SaltLength = 8
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for short salt")
	}
}

package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newEdManager(t *testing.T, mutate func(*Config)) (*Manager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newEdKeys(t)
	cfg := Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "goOTP",
		Audience:      "storefront",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, priv
}

func TestCreateAndParseSession(t *testing.T) {
	m, _ := newEdManager(t, nil)

	token, exp, err := m.CreateSession("ident-1", "CHECKOUT", "+4915112345678", 24*time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if time.Until(exp) < 23*time.Hour {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.ParseSession(token, "CHECKOUT")
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if claims.Subject != "ident-1" || claims.Purpose != "CHECKOUT" || claims.Contact != "+4915112345678" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" || claims.IssuedAt == nil {
		t.Fatal("expected jti and iat")
	}
}

func TestParseSessionPurposeIsolation(t *testing.T) {
	m, _ := newEdManager(t, nil)

	token, _, err := m.CreateSession("ident-1", "ORDER_TRACKING", "+4915112345678", 30*time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.ParseSession(token, "CHECKOUT"); !errors.Is(err, ErrPurposeMismatch) {
		t.Fatalf("expected purpose mismatch, got %v", err)
	}
	if _, err := m.ParseSession(token, ""); !errors.Is(err, ErrPurposeRequired) {
		t.Fatalf("expected purpose required, got %v", err)
	}
	if _, err := m.ParseSession(token, "ORDER_TRACKING"); err != nil {
		t.Fatalf("expected tracking token to parse: %v", err)
	}
}

func TestParseSessionExpiry(t *testing.T) {
	now := time.Now()
	m, _ := newEdManager(t, func(c *Config) {
		c.Now = func() time.Time { return now }
	})

	token, _, err := m.CreateSession("ident-1", "ORDER_TRACKING", "", 30*time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	now = now.Add(29 * time.Minute)
	if _, err := m.ParseSession(token, "ORDER_TRACKING"); err != nil {
		t.Fatalf("expected token valid before expiry: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := m.ParseSession(token, "ORDER_TRACKING"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestParseSessionRejectsWrongAlgorithm(t *testing.T) {
	m, _ := newEdManager(t, nil)

	claims := SessionClaims{Purpose: "CHECKOUT", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "ident-1",
		Issuer:    "goOTP",
		Audience:  gjwt.ClaimStrings{"storefront"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseSession(token, "CHECKOUT"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong algorithm to be rejected, got %v", err)
	}
}

func TestParseSessionIssuerAndAudience(t *testing.T) {
	m, priv := newEdManager(t, nil)

	sign := func(iss, aud string) string {
		claims := SessionClaims{Purpose: "CHECKOUT", RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "ident-1",
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		}}
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	if _, err := m.ParseSession(sign("goOTP", "storefront"), "CHECKOUT"); err != nil {
		t.Fatalf("expected valid token: %v", err)
	}
	if _, err := m.ParseSession(sign("other", "storefront"), "CHECKOUT"); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.ParseSession(sign("goOTP", "other"), "CHECKOUT"); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
}

func TestParseSessionTamperedSignature(t *testing.T) {
	m, _ := newEdManager(t, nil)
	other, _ := newEdManager(t, nil)

	token, _, err := other.CreateSession("ident-1", "CHECKOUT", "", time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.ParseSession(token, "CHECKOUT"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected foreign key signature to fail, got %v", err)
	}
}

func TestHS256RoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.CreateSession("ident-1", "CHECKOUT", "", time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.ParseSession(token, "CHECKOUT"); err != nil {
		t.Fatalf("parse session: %v", err)
	}
}

func TestMaxTTLCapsIssuedTokens(t *testing.T) {
	m, _ := newEdManager(t, func(c *Config) { c.MaxTTL = time.Hour })
	_, exp, err := m.CreateSession("ident-1", "CHECKOUT", "", 48*time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if time.Until(exp) > time.Hour {
		t.Fatalf("expected ttl capped to 1h, got expiry %v", exp)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 secret to fail")
	}
	if _, err := NewManager(Config{SigningMethod: MethodEd25519}); err == nil {
		t.Fatal("expected missing ed25519 key to fail")
	}
	if _, err := NewManager(Config{SigningMethod: "rs256"}); err == nil {
		t.Fatal("expected unsupported method to fail")
	}

	_, priv := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("expected public key derived from private key: %v", err)
	}
	token, _, err := m.CreateSession("ident-1", "CHECKOUT", "", time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.ParseSession(token, "CHECKOUT"); err != nil {
		t.Fatalf("parse session: %v", err)
	}
}

func TestUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := SessionClaims{Purpose: "CHECKOUT", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "ident-1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	bad, _ := tok.SignedString(priv1)
	if _, err := m.ParseSession(bad, "CHECKOUT"); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	good, _, err := m.CreateSession("ident-1", "CHECKOUT", "", time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.ParseSession(good, "CHECKOUT"); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}
}

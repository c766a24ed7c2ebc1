package payment

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"nostrintel/internal/model"
)

func testSecret() string {
	return hex.EncodeToString(bytesOf(0xab, 32))
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestL402Manager_SecretValidation(t *testing.T) {
	if _, err := NewL402Manager("not-hex"); !errors.Is(err, model.ErrL402InvalidSecret) {
		t.Fatalf("expected invalid secret error, got %v", err)
	}
	// 31 bytes is one short.
	if _, err := NewL402Manager(hex.EncodeToString(bytesOf(0x01, 31))); !errors.Is(err, model.ErrL402InvalidSecret) {
		t.Fatalf("expected invalid secret error, got %v", err)
	}
	if _, err := NewL402Manager(testSecret()); err != nil {
		t.Fatalf("32-byte secret should be accepted: %v", err)
	}
}

func TestL402Manager_CreateAndVerifyToken(t *testing.T) {
	mgr, err := NewL402Manager(testSecret())
	if err != nil {
		t.Fatalf("NewL402Manager failed: %v", err)
	}

	token := mgr.CreateToken("abc123", "search_events", math.MaxUint64)
	data, err := mgr.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if data.PaymentHash != "abc123" || data.Caveats.Tool != "search_events" {
		t.Fatalf("round-trip mismatch: %#v", data)
	}
}

func TestL402Manager_NeverExpiresAtZero(t *testing.T) {
	mgr, _ := NewL402Manager(testSecret())
	token := mgr.CreateToken("abc123", "zap_analytics", 0)
	if _, err := mgr.VerifyToken(token); err != nil {
		t.Fatalf("expires=0 must verify: %v", err)
	}
}

func TestL402Manager_ExpiredToken(t *testing.T) {
	mgr, _ := NewL402Manager(testSecret())
	token := mgr.CreateToken("abc123", "search_events", 1)
	if _, err := mgr.VerifyToken(token); !errors.Is(err, model.ErrL402Expired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestL402Manager_TamperedToken(t *testing.T) {
	mgr, _ := NewL402Manager(testSecret())
	tokenB64 := mgr.CreateToken("abc123", "search_events", math.MaxUint64)

	raw, err := base64.StdEncoding.DecodeString(tokenB64)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	tamper := func(mutate func(*L402Token)) string {
		var token L402Token
		if err := json.Unmarshal(raw, &token); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		mutate(&token)
		out, err := json.Marshal(token)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		return base64.StdEncoding.EncodeToString(out)
	}

	cases := map[string]string{
		"tool":         tamper(func(tok *L402Token) { tok.Caveats.Tool = "get_profile" }),
		"payment_hash": tamper(func(tok *L402Token) { tok.PaymentHash = "def456" }),
		"expires":      tamper(func(tok *L402Token) { tok.Caveats.Expires = math.MaxUint64 - 1 }),
	}
	for field, mutated := range cases {
		if _, err := mgr.VerifyToken(mutated); !errors.Is(err, model.ErrL402BadSignature) {
			t.Fatalf("tampering %s: expected bad signature, got %v", field, err)
		}
	}
}

func TestL402Manager_GarbageTokens(t *testing.T) {
	mgr, _ := NewL402Manager(testSecret())
	if _, err := mgr.VerifyToken("!!not-base64!!"); !errors.Is(err, model.ErrL402InvalidToken) {
		t.Fatalf("expected invalid token for bad base64, got %v", err)
	}
	notJSON := base64.StdEncoding.EncodeToString([]byte("hello"))
	if _, err := mgr.VerifyToken(notJSON); !errors.Is(err, model.ErrL402InvalidToken) {
		t.Fatalf("expected invalid token for bad JSON, got %v", err)
	}
}

func TestVerifyPreimage(t *testing.T) {
	preimage := bytesOf(0x01, 32)
	hash := sha256.Sum256(preimage)

	if !VerifyPreimage(hex.EncodeToString(hash[:]), hex.EncodeToString(preimage)) {
		t.Fatal("valid preimage should verify")
	}
	if VerifyPreimage(hex.EncodeToString(hash[:]), hex.EncodeToString(bytesOf(0x02, 32))) {
		t.Fatal("wrong preimage must not verify")
	}
	if VerifyPreimage("zz", hex.EncodeToString(preimage)) {
		t.Fatal("undecodable hash must yield false, not panic")
	}
	if VerifyPreimage(hex.EncodeToString(hash[:]), "zz") {
		t.Fatal("undecodable preimage must yield false")
	}
}

func TestParseAuthorization(t *testing.T) {
	token, preimage, err := ParseAuthorization("L402 dG9rZW4=:abc123")
	if err != nil {
		t.Fatalf("ParseAuthorization failed: %v", err)
	}
	if token != "dG9rZW4=" || preimage != "abc123" {
		t.Fatalf("unexpected parts: %q %q", token, preimage)
	}

	if _, _, err := ParseAuthorization("Bearer xyz"); !errors.Is(err, model.ErrL402InvalidToken) {
		t.Fatalf("expected invalid token for wrong scheme, got %v", err)
	}
	if _, _, err := ParseAuthorization("L402 no_colon"); !errors.Is(err, model.ErrL402InvalidToken) {
		t.Fatalf("expected invalid token for missing colon, got %v", err)
	}
}

func TestL402Manager_ChallengeHeader(t *testing.T) {
	mgr, _ := NewL402Manager(testSecret())
	header := mgr.CreateChallenge("lnbc10n1xyz", "abc123", "search_events", 0)
	const prefix = `L402 invoice="lnbc10n1xyz", token="`
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		t.Fatalf("unexpected challenge header: %s", header)
	}
}

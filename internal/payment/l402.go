package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nostrintel/internal/model"
)

// L402Token is the bearer credential issued alongside an invoice. The
// signature binds the payment hash, the tool name, and the expiry.
type L402Token struct {
	PaymentHash string      `json:"payment_hash"`
	Caveats     L402Caveats `json:"caveats"`
	Signature   string      `json:"signature"`
}

type L402Caveats struct {
	Tool    string `json:"tool"`
	Expires uint64 `json:"expires"`
}

// L402Manager issues and verifies HMAC-SHA256 signed bearer tokens.
type L402Manager struct {
	secret []byte
}

// NewL402Manager builds a manager from a hex-encoded secret of at least 32
// bytes.
func NewL402Manager(secretHex string) (*L402Manager, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil || len(secret) < 32 {
		return nil, model.ErrL402InvalidSecret
	}
	return &L402Manager{secret: secret}, nil
}

// CreateToken returns base64(json(token)) for the given payment.
func (m *L402Manager) CreateToken(paymentHash, tool string, expires uint64) string {
	token := L402Token{
		PaymentHash: paymentHash,
		Caveats:     L402Caveats{Tool: tool, Expires: expires},
	}
	token.Signature = m.sign(paymentHash, token.Caveats)

	raw, err := json.Marshal(token)
	if err != nil {
		// Token fields are plain strings and an integer; this cannot fail.
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// VerifyToken decodes and verifies a base64 token. An expires value of 0
// means the token never expires.
func (m *L402Manager) VerifyToken(tokenBase64 string) (*L402Token, error) {
	raw, err := base64.StdEncoding.DecodeString(tokenBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", model.ErrL402InvalidToken)
	}

	var token L402Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", model.ErrL402InvalidToken)
	}

	if token.Caveats.Expires > 0 && uint64(time.Now().Unix()) > token.Caveats.Expires {
		return nil, model.ErrL402Expired
	}

	expected := m.sign(token.PaymentHash, token.Caveats)
	if subtle.ConstantTimeCompare([]byte(token.Signature), []byte(expected)) != 1 {
		return nil, model.ErrL402BadSignature
	}
	return &token, nil
}

// VerifyPreimage reports whether SHA-256(preimage) equals paymentHash, both
// hex-encoded. Any decoding failure yields false.
func VerifyPreimage(paymentHashHex, preimageHex string) bool {
	preimage, err := hex.DecodeString(preimageHex)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(paymentHashHex)
	if err != nil {
		return false
	}
	computed := sha256.Sum256(preimage)
	return subtle.ConstantTimeCompare(computed[:], expected) == 1
}

// CreateChallenge returns the WWW-Authenticate header value for an L402
// challenge.
func (m *L402Manager) CreateChallenge(invoice, paymentHash, tool string, expires uint64) string {
	token := m.CreateToken(paymentHash, tool, expires)
	return fmt.Sprintf("L402 invoice=%q, token=%q", invoice, token)
}

// ParseAuthorization splits an "L402 <token>:<preimage>" Authorization
// header into its parts.
func ParseAuthorization(header string) (token, preimage string, err error) {
	rest, ok := strings.CutPrefix(header, "L402 ")
	if !ok {
		return "", "", fmt.Errorf("%w: missing L402 prefix", model.ErrL402InvalidToken)
	}
	token, preimage, ok = strings.Cut(rest, ":")
	if !ok {
		return "", "", fmt.Errorf("%w: missing colon separator", model.ErrL402InvalidToken)
	}
	return token, preimage, nil
}

// sign computes hex(HMAC-SHA256(secret, payment_hash || tool || be64(expires))).
func (m *L402Manager) sign(paymentHash string, caveats L402Caveats) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(paymentHash))
	mac.Write([]byte(caveats.Tool))

	var expires [8]byte
	binary.BigEndian.PutUint64(expires[:], caveats.Expires)
	mac.Write(expires[:])

	return hex.EncodeToString(mac.Sum(nil))
}

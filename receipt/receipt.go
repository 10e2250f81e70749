// Package receipt mints signed JWT receipts attesting that a proof was
// verified, so downstream services can trust a verdict without re-verifying.
package receipt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"tlsn-notary/proofverifier"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer = "tlsn-notary-verifier"
	DefaultTTL    = 24 * time.Hour
)

// Claims carried by a verification receipt.
type Claims struct {
	jwt.RegisteredClaims
	ServerName  string `json:"server_name"`
	SessionTime int64  `json:"session_time"`
	SentHash    string `json:"sent_sha256"`
	RecvHash    string `json:"recv_sha256"`
	NotaryKeyID string `json:"notary_key_id"`
}

// Issuer signs receipts with an ES256 key.
type Issuer struct {
	key    *ecdsa.PrivateKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

func WithIssuer(name string) Option         { return func(i *Issuer) { i.issuer = name } }
func WithTTL(ttl time.Duration) Option      { return func(i *Issuer) { i.ttl = ttl } }
func WithClock(now func() time.Time) Option { return func(i *Issuer) { i.now = now } }

// NewIssuer returns an issuer signing with key, which must be a P-256 key.
func NewIssuer(key *ecdsa.PrivateKey, opts ...Option) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("receipt signing key is required")
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("receipt signing key must be P-256, got %s", key.Curve.Params().Name)
	}
	i := &Issuer{
		key:    key,
		issuer: DefaultIssuer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Public returns the key receipts are verified with.
func (i *Issuer) Public() *ecdsa.PublicKey {
	return &i.key.PublicKey
}

// Issue signs a receipt for a verified transcript.
func (i *Issuer) Issue(r *proofverifier.RevealedTranscript) (string, error) {
	if r == nil {
		return "", errors.New("revealed transcript is required")
	}
	jti, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate receipt ID: %w", err)
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   r.SessionID,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		ServerName:  r.ServerName,
		SessionTime: r.Time.Unix(),
		SentHash:    Digest(r.Sent),
		RecvHash:    Digest(r.Received),
		NotaryKeyID: r.NotaryKeyID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %v", err)
	}
	return token, nil
}

// Digest is the hex SHA-256 used for the transcript hash claims.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Parse verifies a receipt issued by issuer with key, allowing one minute of
// clock skew.
func Parse(token string, key *ecdsa.PublicKey, issuer string, opts ...jwt.ParserOption) (*Claims, error) {
	if key == nil {
		return nil, errors.New("receipt verification key is required")
	}
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Minute),
	}, opts...)

	var claims Claims
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid receipt")
	}
	return &claims, nil
}

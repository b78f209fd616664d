package storeapi

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ineyio/askgate"
)

// TransactionClaims is the payload of a signed transaction. Dates are Unix milliseconds.
type TransactionClaims struct {
	TransactionID  string `json:"transactionId"`
	ProductID      string `json:"productId"`
	PurchaseDate   int64  `json:"purchaseDate"`
	RevocationDate *int64 `json:"revocationDate,omitempty"`
	jwt.RegisteredClaims
}

// Transaction converts the claims to an askgate transaction.
func (c *TransactionClaims) Transaction() askgate.Transaction {
	tx := askgate.Transaction{
		ID:           c.TransactionID,
		ProductID:    c.ProductID,
		PurchaseDate: time.UnixMilli(c.PurchaseDate),
	}
	if c.RevocationDate != nil {
		t := time.UnixMilli(*c.RevocationDate)
		tx.RevocationDate = &t
	}
	return tx
}

// Verifier checks ES256 signed transactions against the store's public key.
type Verifier struct {
	key    *ecdsa.PublicKey
	parser *jwt.Parser
}

// NewVerifier parses a PEM-encoded ECDSA public key.
func NewVerifier(pemKey []byte) (*Verifier, error) {
	key, err := jwt.ParseECPublicKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("askgate/storeapi: parse public key: %w", err)
	}
	return NewVerifierFromKey(key), nil
}

// NewVerifierFromKey uses an already parsed public key.
func NewVerifierFromKey(key *ecdsa.PublicKey) *Verifier {
	return &Verifier{
		key:    key,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()})),
	}
}

// Verify checks the signature of token. On failure the result still carries
// whatever transaction fields could be read without verification.
func (v *Verifier) Verify(token string) askgate.VerificationResult {
	claims := &TransactionClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v (expected ECDSA)", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		unverified := &TransactionClaims{}
		_, _, _ = jwt.NewParser().ParseUnverified(token, unverified)
		return askgate.VerificationResult{
			Transaction: unverified.Transaction(),
			Err:         fmt.Errorf("%w: %w", askgate.ErrVerificationFailed, err),
		}
	}
	if claims.TransactionID == "" || claims.ProductID == "" {
		return askgate.VerificationResult{
			Transaction: claims.Transaction(),
			Err:         fmt.Errorf("%w: missing transactionId or productId", askgate.ErrVerificationFailed),
		}
	}
	return askgate.VerificationResult{Transaction: claims.Transaction(), Verified: true}
}

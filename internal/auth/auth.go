// Package auth signs and verifies user identity assertions using RSA-PSS.
//
// A gateway that has already authenticated the user signs the user id with
// its private key. The notify server verifies the assertion with the matching
// public key before subscribing the connection to per-user channels.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Assertion headers.
const (
	HeaderUserID    = "X-User-Id"
	HeaderTimestamp = "X-User-Timestamp"
	HeaderSignature = "X-User-Signature"
)

// Verification errors.
var (
	ErrMissingUserID    = errors.New("missing user id")
	ErrMissingSignature = errors.New("missing signature")
	ErrBadTimestamp     = errors.New("invalid timestamp")
	ErrExpired          = errors.New("timestamp outside allowed skew")
	ErrBadSignature     = errors.New("signature verification failed")
)

// Signer produces signed assertions for a user.
type Signer struct {
	UserID     string          // User the assertions are issued for
	PrivateKey *rsa.PrivateKey // RSA private key for signing
}

// LoadSigner loads a signer from a user id and private key file path.
func LoadSigner(userID, privateKeyPath string) (*Signer, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Signer{
		UserID:     userID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// LoadPublicKey loads an RSA public key from a PEM file (PKIX or PKCS#1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA public key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return rsaKey, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	return block, nil
}

// Sign generates assertion headers for the signer's user.
func (s *Signer) Sign() (headers map[string]string, err error) {
	timestampMs := time.Now().UnixMilli()

	signature, err := s.generateSignature(timestampMs)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		HeaderUserID:    s.UserID,
		HeaderTimestamp: strconv.FormatInt(timestampMs, 10),
		HeaderSignature: signature,
	}, nil
}

// generateSignature creates an RSA-PSS signature.
// Message format: timestamp_ms + user_id
func (s *Signer) generateSignature(timestampMs int64) (string, error) {
	hashed := sha256.Sum256(message(timestampMs, s.UserID))

	signature, err := rsa.SignPSS(
		rand.Reader,
		s.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

func message(timestampMs int64, userID string) []byte {
	return []byte(strconv.FormatInt(timestampMs, 10) + userID)
}

// Verifier checks signed assertions.
type Verifier struct {
	PublicKey *rsa.PublicKey
	MaxSkew   time.Duration // Zero disables the timestamp window check

	now func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(publicKey *rsa.PublicKey, maxSkew time.Duration) *Verifier {
	return &Verifier{PublicKey: publicKey, MaxSkew: maxSkew, now: time.Now}
}

// Verify checks that signature is a valid assertion of userID at timestamp
// (milliseconds since the epoch, decimal).
func (v *Verifier) Verify(userID, timestamp, signature string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if signature == "" {
		return ErrMissingSignature
	}

	timestampMs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadTimestamp, timestamp)
	}

	if v.MaxSkew > 0 {
		now := time.Now
		if v.now != nil {
			now = v.now
		}
		skew := now().Sub(time.UnixMilli(timestampMs))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.MaxSkew {
			return fmt.Errorf("%w: %v", ErrExpired, skew)
		}
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: decode: %v", ErrBadSignature, err)
	}

	hashed := sha256.Sum256(message(timestampMs, userID))
	err = rsa.VerifyPSS(v.PublicKey, crypto.SHA256, hashed[:], sig,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	return nil
}

// VerifyRequest verifies the assertion headers on r and returns the user id.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	userID := r.Header.Get(HeaderUserID)
	if err := v.Verify(userID, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature)); err != nil {
		return "", err
	}
	return userID, nil
}

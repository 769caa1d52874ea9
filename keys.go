package fxwsock

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// GenerateKey creates a new ECDSA key pair on the given curve.
// If curve is nil, P256 is used.
func GenerateKey(curve elliptic.Curve) (*ecdsa.PrivateKey, error) {
	if curve == nil {
		curve = elliptic.P256()
	}
	return ecdsa.GenerateKey(curve, rand.Reader)
}

// EncodePrivateKey encodes a static identity key to PEM format.
func EncodePrivateKey(key *ecdsa.PrivateKey) (string, error) {
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", err
	}
	block := &pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyBytes,
	}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodePrivateKey decodes a static identity key from PEM format.
func DecodePrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// deriveKey derives one keySize-byte session key from the shared secret via
// HKDF-SHA256 with the given salt and direction label.
func deriveKey(secret, salt, info []byte) []byte {
	kdf := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, keySize)
	io.ReadFull(kdf, key)
	return key
}

// Package crypto signs artifact manifests with detached RS256 JSON Web
// Signatures.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrBadSignature = errors.New("jws: signature does not verify")

// JWS is a flattened JSON serialization with the payload left out. The
// payload travels separately and is supplied again to VerifyDetachedJWS.
type JWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type jwsHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// SignDetachedJWS signs payload with the RSA key in privateKeyPEM (PKCS#1 or
// PKCS#8). kid is recorded in the protected header when set.
func SignDetachedJWS(payload []byte, privateKeyPEM []byte, kid string) (JWS, error) {
	priv, err := ParseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return JWS{}, err
	}
	hb, err := json.Marshal(jwsHeader{Alg: "RS256", Typ: "JOSE", Kid: kid})
	if err != nil {
		return JWS{}, err
	}
	protected := base64.RawURLEncoding.EncodeToString(hb)
	h := signingHash(protected, payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h[:])
	if err != nil {
		return JWS{}, err
	}
	return JWS{
		Protected: protected,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// VerifyDetachedJWS checks sig against payload and pub.
func VerifyDetachedJWS(sig JWS, payload []byte, pub *rsa.PublicKey) error {
	hb, err := base64.RawURLEncoding.DecodeString(sig.Protected)
	if err != nil {
		return fmt.Errorf("jws: protected header: %w", err)
	}
	var hdr jwsHeader
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return fmt.Errorf("jws: protected header: %w", err)
	}
	if hdr.Alg != "RS256" {
		return fmt.Errorf("jws: unsupported alg %q", hdr.Alg)
	}
	raw, err := base64.RawURLEncoding.DecodeString(sig.Signature)
	if err != nil {
		return fmt.Errorf("jws: signature: %w", err)
	}
	h := signingHash(sig.Protected, payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], raw); err != nil {
		return ErrBadSignature
	}
	return nil
}

func signingHash(protected string, payload []byte) [32]byte {
	return sha256.Sum256([]byte(protected + "." + base64.RawURLEncoding.EncodeToString(payload)))
}

// ParseRSAPrivateKey decodes the first PEM block of pemBytes.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// ParseCertificate decodes a PEM certificate and returns it with its RSA
// public key.
func ParseCertificate(pemBytes []byte) (*x509.Certificate, *rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, nil, errors.New("parse cert: no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse cert: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, nil, errors.New("parse cert: public key is not RSA")
	}
	return cert, pub, nil
}

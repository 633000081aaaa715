// Package manifest lists parameter files and generated artifacts with their
// SHA-256 digests, optionally signed with a detached JWS.
package manifest

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/crypto"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time  `json:"createdAt"`
	ShaAlgo   string     `json:"shaAlgo"`
	Items     []Item     `json:"items"`
	Signature *Signature `json:"signature,omitempty"`
}

type Signature struct {
	Type          string `json:"type"`
	KeyID         string `json:"keyId,omitempty"`
	CertSubject   string `json:"certSubject,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
	SignatureFile string `json:"signatureFile,omitempty"`
}

var ErrUnsigned = errors.New("manifest is not signed")

// Build hashes every path in order.
func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hex, Type: ItemType(p)})
	}
	return m, nil
}

// ItemType classifies a file by extension.
func ItemType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".param", ".parm", ".params", ".txt", ".csv":
		return "param"
	case ".bin":
		return "binary"
	case ".img", ".apj", ".hex":
		return "image"
	case ".yaml", ".yml", ".xml":
		return "schema"
	case ".jsonl", ".ndjson":
		return "diagnostics"
	case ".json":
		return "json"
	case ".pdf":
		return "pdf"
	default:
		return "other"
	}
}

// Payload is the canonical byte form that signatures cover: the manifest
// without its signature block.
func Payload(m Manifest) ([]byte, error) {
	m.Signature = nil
	return json.Marshal(m)
}

// Sign signs m with keyPEM, writes the detached JWS to sigPath and records
// it in m.Signature.
func Sign(m *Manifest, keyPEM []byte, keyID, sigPath string) error {
	payload, err := Payload(*m)
	if err != nil {
		return err
	}
	jws, err := crypto.SignDetachedJWS(payload, keyPEM, keyID)
	if err != nil {
		return fmt.Errorf("sign manifest: %w", err)
	}
	b, err := json.MarshalIndent(jws, "", "  ")
	if err != nil {
		return err
	}
	if err := common.WriteFileAtomic(sigPath, append(b, '\n'), 0o644); err != nil {
		return err
	}
	m.Signature = &Signature{Type: "JWS-RS256", KeyID: keyID, SignatureFile: filepath.Base(sigPath)}
	return nil
}

// Verify checks the detached signature stored at sigPath against m.
func Verify(m Manifest, sigPath string, pub *rsa.PublicKey) error {
	if m.Signature == nil {
		return ErrUnsigned
	}
	data, err := os.ReadFile(sigPath)
	if err != nil {
		return err
	}
	var jws crypto.JWS
	if err := json.Unmarshal(data, &jws); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	payload, err := Payload(m)
	if err != nil {
		return err
	}
	return crypto.VerifyDetachedJWS(jws, payload, pub)
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(out, append(b, '\n'), 0o644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

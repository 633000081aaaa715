package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/paramgate/internal/manifest"
)

func writeSigner(t *testing.T, dir string) (keyPath, certPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "bench signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return writeFile(t, filepath.Join(dir, "key.pem"), keyPEM), writeFile(t, filepath.Join(dir, "cert.pem"), certPEM)
}

func TestManifestCmdSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	keyPath, certPath := writeSigner(t, dir)
	a := writeFile(t, filepath.Join(dir, "copter.param"), []byte("THR_MIN=10\n"))
	b := writeFile(t, filepath.Join(dir, "diagnostics.jsonl"), []byte("{}\n"))
	out := filepath.Join(dir, "manifest.json")

	var buf bytes.Buffer
	err := manifestCmd(context.Background(), &buf, []string{
		"--inputs", a + "," + b, "--out", out, "--sign", "--key", keyPath, "--key-id", "bench", "--cert", certPath,
	})
	if err != nil {
		t.Fatalf("manifestCmd: %v", err)
	}
	if !strings.Contains(buf.String(), "manifest.jws") {
		t.Fatalf("output = %q", buf.String())
	}
	m, err := manifest.Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Signature == nil || m.Signature.KeyID != "bench" || !strings.Contains(m.Signature.CertSubject, "bench signer") {
		t.Fatalf("signature = %+v", m.Signature)
	}

	for _, tc := range []struct {
		name string
		args []string
	}{
		{"key", []string{"--manifest", out, "--key", keyPath}},
		{"cert", []string{"--manifest", out, "--cert", certPath, "--jws", filepath.Join(dir, "manifest.jws")}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := verifySignatureCmd(context.Background(), &buf, tc.args); err != nil {
				t.Fatalf("verifySignatureCmd: %v", err)
			}
			if !strings.Contains(buf.String(), "Signature OK") {
				t.Fatalf("output = %q", buf.String())
			}
		})
	}

	writeFile(t, a, []byte("THR_MIN=11\n"))
	tampered, err := manifest.Build([]string{a, b})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tampered.Signature = m.Signature
	tampered.CreatedAt = m.CreatedAt
	if err := manifest.Save(tampered, out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := verifySignatureCmd(context.Background(), &buf, []string{"--manifest", out, "--key", keyPath}); err == nil {
		t.Fatalf("expected verification failure after tampering")
	}
}

func TestManifestCmdErrors(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "copter.param"), []byte("THR_MIN=10\n"))
	out := filepath.Join(dir, "manifest.json")
	cases := []struct {
		name string
		cmd  command
		args []string
	}{
		{"no inputs", manifestCmd, []string{"--out", out}},
		{"sign without key", manifestCmd, []string{"--inputs", a, "--out", out, "--sign"}},
		{"verify without manifest", verifySignatureCmd, []string{"--key", "k.pem"}},
		{"verify without key", verifySignatureCmd, []string{"--manifest", out}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cmd(context.Background(), &bytes.Buffer{}, tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	var buf bytes.Buffer
	if err := manifestCmd(context.Background(), &buf, []string{"--inputs", a, "--out", out}); err != nil {
		t.Fatalf("manifestCmd: %v", err)
	}
	m, err := manifest.Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Signature != nil || len(m.Items) != 1 {
		t.Fatalf("manifest = %+v", m)
	}
}

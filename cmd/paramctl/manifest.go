package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"example.com/paramgate/internal/crypto"
	"example.com/paramgate/internal/manifest"
)

func manifestCmd(_ context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	out := fs.String("out", "manifest.json", "output json")
	sign := fs.Bool("sign", false, "sign manifest (detached JWS over JSON)")
	keyPath := fs.String("key", "", "PEM private key for signing (requires --sign)")
	keyID := fs.String("key-id", "", "key id recorded in the JWS header")
	certPath := fs.String("cert", "", "PEM certificate describing the signer")
	jwsOut := fs.String("jws-out", "", "output JWS file (defaults to manifest path with .jws)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := splitList(*inputs)
	if len(paths) == 0 {
		return errors.New("required: --inputs")
	}
	m, err := manifest.Build(paths)
	if err != nil {
		return fmt.Errorf("manifest build: %w", err)
	}
	if !*sign {
		if err := manifest.Save(m, *out); err != nil {
			return fmt.Errorf("manifest save: %w", err)
		}
		fmt.Fprintln(w, "Wrote", *out)
		return nil
	}
	if *keyPath == "" {
		return errors.New("--sign requires --key")
	}
	keyBytes, err := os.ReadFile(*keyPath)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	sigPath := *jwsOut
	if sigPath == "" {
		sigPath = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".jws"
	}
	if err := manifest.Sign(&m, keyBytes, *keyID, sigPath); err != nil {
		return err
	}
	if *certPath != "" {
		certBytes, err := os.ReadFile(*certPath)
		if err != nil {
			return fmt.Errorf("read cert: %w", err)
		}
		cert, _, err := crypto.ParseCertificate(certBytes)
		if err != nil {
			return err
		}
		m.Signature.CertSubject = cert.Subject.String()
		m.Signature.Issuer = cert.Issuer.String()
	}
	if err := manifest.Save(m, *out); err != nil {
		return fmt.Errorf("manifest save: %w", err)
	}
	fmt.Fprintln(w, "Wrote", *out)
	fmt.Fprintln(w, "Wrote signature", sigPath)
	return nil
}

func verifySignatureCmd(_ context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("verify-signature", flag.ContinueOnError)
	manifestPath := fs.String("manifest", "", "manifest json")
	jwsPath := fs.String("jws", "", "detached JWS (defaults to the file named in the manifest)")
	keyPath := fs.String("key", "", "PEM private key whose public half verifies")
	certPath := fs.String("cert", "", "PEM certificate of the signer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *manifestPath == "" {
		return errors.New("required: --manifest")
	}
	pub, err := verificationKey(*keyPath, *certPath)
	if err != nil {
		return err
	}
	m, err := manifest.Load(*manifestPath)
	if err != nil {
		return fmt.Errorf("manifest load: %w", err)
	}
	sigPath := *jwsPath
	if sigPath == "" {
		if m.Signature == nil || m.Signature.SignatureFile == "" {
			return manifest.ErrUnsigned
		}
		sigPath = filepath.Join(filepath.Dir(*manifestPath), m.Signature.SignatureFile)
	}
	if err := manifest.Verify(m, sigPath, pub); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Fprintln(w, "Signature OK")
	return nil
}

func verificationKey(keyPath, certPath string) (*rsa.PublicKey, error) {
	switch {
	case certPath != "":
		data, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("read cert: %w", err)
		}
		_, pub, err := crypto.ParseCertificate(data)
		return pub, err
	case keyPath != "":
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		priv, err := crypto.ParseRSAPrivateKey(data)
		if err != nil {
			return nil, err
		}
		return &priv.PublicKey, nil
	default:
		return nil, errors.New("required: --cert or --key")
	}
}

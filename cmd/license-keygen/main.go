// Command license-keygen generates the RSA keypair the license server
// signs tokens with, writing private.pem and public.pem into the data
// directory. Existing key files are never overwritten.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	dataDir := flag.String("data-dir", "data", "directory to write the keypair into")
	bits := flag.Int("bits", 2048, "RSA key size in bits")
	flag.Parse()

	if err := run(*dataDir, *bits); err != nil {
		fmt.Fprintln(os.Stderr, "license-keygen:", err)
		os.Exit(1)
	}
}

func run(dataDir string, bits int) error {
	privPath := filepath.Join(dataDir, "private.pem")
	pubPath := filepath.Join(dataDir, "public.pem")

	for _, p := range []string{privPath, pubPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", p)
		}
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s (%d bits)\n", privPath, pubPath, bits)
	return nil
}

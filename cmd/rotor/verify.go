package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/export"
)

// runVerifyCmd implements `rotor verify`: offline verification of a
// signed export payload. The key comes either from a key manifest or
// from a bare PEM public key plus its key ID.
//
// Exit codes:
//
//	0 = payload verifies
//	1 = payload tampered or signature invalid
//	2 = usage or I/O error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		exportPath string
		pubKeyPath string
		keyID      string
		keysPath   string
	)
	cmd.StringVar(&exportPath, "export", "", "Path to the export payload JSON (REQUIRED)")
	cmd.StringVar(&pubKeyPath, "public-key", "", "PEM file with the signer's public key")
	cmd.StringVar(&keyID, "key-id", "", "Key ID the signature must name (with --public-key)")
	cmd.StringVar(&keysPath, "keys", "", "Key manifest JSON (alternative to --public-key)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if exportPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --export is required")
		return 2
	}
	if pubKeyPath == "" && keysPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: supply --public-key with --key-id, or --keys")
		return 2
	}

	raw, err := os.ReadFile(exportPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read export: %v\n", err)
		return 2
	}
	var payload contracts.ExportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: decode export: %v\n", err)
		return 2
	}

	var verifyErr error
	switch {
	case pubKeyPath != "":
		if keyID == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --key-id is required with --public-key")
			return 2
		}
		pem, err := os.ReadFile(pubKeyPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read public key: %v\n", err)
			return 2
		}
		verifyErr = export.VerifyWithPublicKey(&payload, string(pem), keyID)
	default:
		keys, err := loadManifestKeySet(keysPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		verifyErr = export.Verify(&payload, keys)
	}

	if verifyErr != nil {
		coded := contracts.AsError(verifyErr)
		writeJSON(stdout, map[string]any{
			"ok":      false,
			"code":    string(coded.Code),
			"message": coded.Message,
			"details": coded.Details,
		})
		return 1
	}
	writeJSON(stdout, map[string]any{
		"ok":          true,
		"kind":        payload.Kind,
		"export_hash": payload.ExportHash,
		"key_id":      payload.Signature.KeyID,
	})
	return 0
}

func loadManifestKeySet(path string) (*crypto.KeySet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key manifest: %w", err)
	}
	var manifest crypto.KeyManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode key manifest: %w", err)
	}
	return crypto.LoadKeySet(&manifest)
}

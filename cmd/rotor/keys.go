package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/loopworks/rotor/pkg/crypto"
)

// runKeysCmd implements `rotor keys <list|rotate|revoke>` against a key
// manifest file. Rotation and revocation rewrite the manifest in place,
// private halves included, so keep the file out of any shared location.
//
// Exit codes:
//
//	0 = done
//	1 = operation refused (unknown key, no such manifest entry)
//	2 = usage or I/O error
func runKeysCmd(args []string, stdout, stderr io.Writer) int {
	action := args[0]
	cmd := flag.NewFlagSet("keys "+action, flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keysPath string
		keyID    string
	)
	cmd.StringVar(&keysPath, "keys", "", "Key manifest JSON (REQUIRED)")
	cmd.StringVar(&keyID, "key-id", "", "Key ID to rotate in or revoke")

	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if keysPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --keys is required")
		return 2
	}

	keys, err := loadOrInitKeySet(keysPath, action)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	switch action {
	case "list":
		// nothing to change
	case "rotate":
		if keyID == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --key-id is required for rotate")
			return 2
		}
		if _, err := keys.Rotate(keyID); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: rotate: %v\n", err)
			return 1
		}
	case "revoke":
		if keyID == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --key-id is required for revoke")
			return 2
		}
		if err := keys.Revoke(keyID); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: revoke: %v\n", err)
			return 1
		}
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown keys action: %s\n", action)
		return 2
	}

	if action != "list" {
		if err := saveKeyManifest(keysPath, keys); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	listing := make([]map[string]any, 0)
	for _, id := range keys.KeyIDs() {
		status, err := keys.Status(id)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		listing = append(listing, map[string]any{"key_id": id, "status": string(status)})
	}
	writeJSON(stdout, map[string]any{
		"ok":            true,
		"active_key_id": keys.ActiveKeyID(),
		"keys":          listing,
	})
	return 0
}

// loadOrInitKeySet opens the manifest; rotate may start from an empty
// set so a first key can be minted into a fresh file.
func loadOrInitKeySet(path, action string) (*crypto.KeySet, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if action == "rotate" {
			return crypto.NewKeySet(), nil
		}
		return nil, fmt.Errorf("key manifest %s does not exist", path)
	}
	return loadManifestKeySet(path)
}

func saveKeyManifest(path string, keys *crypto.KeySet) error {
	manifest, err := keys.Export(true)
	if err != nil {
		return fmt.Errorf("export key manifest: %w", err)
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write key manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install key manifest: %w", err)
	}
	return nil
}

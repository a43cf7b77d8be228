package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/export"
	"github.com/loopworks/rotor/pkg/store"
)

// runExportCmd implements `rotor export`: produce a signed export from a
// state snapshot without a running service. The export checkpoint is
// persisted back into the snapshot, so repeated runs page forward.
//
// Exit codes:
//
//	0 = export written
//	1 = export refused (unknown kind, checkpoint mismatch)
//	2 = usage or I/O error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		statePath  string
		keysPath   string
		kind       string
		limit      int
		outPath    string
		cursor     string
		attest     string
		checkpoint string
	)
	cmd.StringVar(&statePath, "state", "", "Path to the JSON state snapshot (REQUIRED)")
	cmd.StringVar(&keysPath, "keys", "", "Key manifest JSON with a signing key (REQUIRED)")
	cmd.StringVar(&kind, "kind", "", "Export kind, e.g. receipts or events (REQUIRED)")
	cmd.IntVar(&limit, "limit", 0, "Page size (default 100, max 1000)")
	cmd.StringVar(&outPath, "out", "", "Write the payload here instead of stdout")
	cmd.StringVar(&cursor, "cursor-after", "", "Resume cursor from a previous export")
	cmd.StringVar(&attest, "attestation-after", "", "Resume attestation hash from a previous export")
	cmd.StringVar(&checkpoint, "checkpoint-after", "", "Resume checkpoint hash from a previous export")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if statePath == "" || keysPath == "" || kind == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --state, --keys and --kind are required")
		return 2
	}

	keys, err := loadManifestKeySet(keysPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	ctx := context.Background()
	st, err := store.Open(ctx, store.BackendJSON, statePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open state: %v\n", err)
		return 2
	}
	defer func() { _ = st.Close() }()

	engine := export.NewEngine(keys)
	var payload *contracts.ExportPayload
	err = st.Update(ctx, func(state *store.State) error {
		var runErr error
		payload, runErr = engine.Run(ctx, state, "", contracts.ExportQuery{
			Kind:             kind,
			Limit:            limit,
			CursorAfter:      cursor,
			AttestationAfter: attest,
			CheckpointAfter:  checkpoint,
		})
		return runErr
	})
	if err != nil {
		coded := contracts.AsError(err)
		writeJSON(stdout, map[string]any{
			"ok":      false,
			"code":    string(coded.Code),
			"message": coded.Message,
		})
		return 1
	}

	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write payload: %v\n", err)
			return 2
		}
		defer func() { _ = f.Close() }()
		writeJSON(f, payload)
		writeJSON(stdout, map[string]any{
			"ok":              true,
			"kind":            payload.Kind,
			"entries":         len(payload.Entries),
			"next_cursor":     payload.NextCursor,
			"checkpoint_hash": payload.Checkpoint.CheckpointHash,
			"out":             outPath,
		})
		return 0
	}
	writeJSON(stdout, payload)
	return 0
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"strings"

	"github.com/loopworks/rotor/pkg/config"
	"github.com/loopworks/rotor/pkg/store"
)

// runMigrateCmd implements `rotor migrate-json-state-to-sqlite`.
//
// Output is a single stable JSON object so orchestration can parse it:
// {"ok":true, ...result} or {"ok":false,"code":...,"message":...}.
//
// Exit codes:
//
//	0 = migration completed
//	1 = migration refused (already migrated, unsupported snapshot)
//	2 = usage or I/O error
func runMigrateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("migrate-json-state-to-sqlite", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		fromPath string
		toPath   string
		force    bool
	)
	cmd.StringVar(&fromPath, "from-state-file", cfg.StateFile, "Source JSON snapshot")
	cmd.StringVar(&toPath, "to-state-file", defaultSQLitePath(cfg.StateFile), "Target sqlite database")
	cmd.BoolVar(&force, "force", false, "Re-run even if the target carries a migration marker")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	result, err := store.MigrateJSONToSQLite(context.Background(), fromPath, toPath, force)
	if err != nil {
		code := 2
		if errors.Is(err, store.ErrAlreadyMigrated) {
			code = 1
		}
		writeJSON(stdout, map[string]any{
			"ok":      false,
			"message": err.Error(),
		})
		return code
	}
	writeJSON(stdout, map[string]any{
		"ok":     true,
		"result": result,
	})
	return 0
}

func defaultSQLitePath(stateFile string) string {
	if strings.HasSuffix(stateFile, ".json") {
		return strings.TrimSuffix(stateFile, ".json") + ".db"
	}
	return stateFile + ".db"
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

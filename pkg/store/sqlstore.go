package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/loopworks/rotor/pkg/contracts"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore keeps the same in-memory tree as JSONStore but persists it to
// per-resource tables. Placeholders use the $N form, which both the
// sqlite and postgres drivers accept, so every statement runs unchanged
// on either backend.
type SQLStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	driver string
	state  *State
	log    *slog.Logger
}

// NewSQLStore wraps an open database handle and ensures the schema.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{
		db:     db,
		driver: driver,
		state:  NewState(),
		log:    slog.Default().With("component", "store", "backend", driver),
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Backend() string { return s.driver }

// DB exposes the handle for migration marker writes.
func (s *SQLStore) DB() *sql.DB { return s.db }

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS intents (
		intent_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS proposals (
		proposal_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS commits (
		proposal_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS timelines (
		cycle_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS receipts (
		seq INTEGER PRIMARY KEY,
		receipt_id TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vault_holdings (
		holding_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vault_custody_snapshots (
		seq INTEGER PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency (
		scope_key TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS delegations (
		delegation_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS partner_program (
		partner_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS partner_program_usage (
		seq INTEGER PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS partner_rollout_policies (
		partner_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS partner_rollout_policy_audit (
		seq INTEGER PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS export_checkpoints (
		kind TEXT NOT NULL,
		checkpoint_hash TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (kind, checkpoint_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS tenancy_proposals (
		resource_id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tenancy_cycles (
		resource_id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chain_heads (
		journal TEXT PRIMARY KEY,
		head TEXT NOT NULL,
		length INTEGER NOT NULL
	)`,
}

func (s *SQLStore) ensureSchema() error {
	ctx := context.Background()
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// Load hydrates the tree from tables. An empty database yields a fresh
// tree stamped with the current schema version.
func (s *SQLStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok, err := s.meta(ctx, "schema_version")
	if err != nil {
		return err
	}
	if !ok {
		s.state = NewState()
		s.log.Info("empty database, starting fresh")
		return nil
	}
	if err := checkSchemaVersion(version); err != nil {
		return err
	}

	state := NewState()
	state.SchemaVersion = version

	if err := s.loadJSONMap(ctx, `SELECT intent_id, data FROM intents`, func(id, data string) error {
		v := &contracts.SwapIntent{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.Intents[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load intents: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT proposal_id, data FROM proposals`, func(id, data string) error {
		v := &contracts.CycleProposal{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.Proposals[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load proposals: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT proposal_id, data FROM commits`, func(id, data string) error {
		v := &contracts.Commit{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.Commits[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load commits: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT cycle_id, data FROM timelines`, func(id, data string) error {
		v := &contracts.Timeline{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.Timelines[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load timelines: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT holding_id, data FROM vault_holdings`, func(id, data string) error {
		v := &contracts.VaultHolding{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.VaultHoldings[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load vault holdings: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT scope_key, data FROM idempotency`, func(id, data string) error {
		v := &contracts.IdempotencyRecord{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.Idempotency[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load idempotency: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT delegation_id, data FROM delegations`, func(id, data string) error {
		v := &contracts.DelegationGrant{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.Delegations[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load delegations: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT partner_id, data FROM partner_program`, func(id, data string) error {
		v := &contracts.Program{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.PartnerProgram[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load partner program: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT partner_id, data FROM partner_rollout_policies`, func(id, data string) error {
		v := &contracts.RolloutPolicy{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.PartnerRolloutPolicies[id] = v
		return nil
	}); err != nil {
		return fmt.Errorf("store: load rollout policies: %w", err)
	}

	if err := s.loadJournal(ctx, `SELECT data FROM receipts ORDER BY seq`, func(data string) error {
		v := &contracts.Receipt{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.Receipts = append(state.Receipts, v)
		return nil
	}); err != nil {
		return fmt.Errorf("store: load receipts: %w", err)
	}
	if err := s.loadJournal(ctx, `SELECT data FROM vault_custody_snapshots ORDER BY seq`, func(data string) error {
		v := &contracts.CustodySnapshot{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.VaultCustodySnapshots = append(state.VaultCustodySnapshots, v)
		return nil
	}); err != nil {
		return fmt.Errorf("store: load custody snapshots: %w", err)
	}
	if err := s.loadJournal(ctx, `SELECT data FROM events ORDER BY seq`, func(data string) error {
		v := &contracts.EventEnvelope{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.Events = append(state.Events, v)
		return nil
	}); err != nil {
		return fmt.Errorf("store: load events: %w", err)
	}
	if err := s.loadJournal(ctx, `SELECT data FROM partner_program_usage ORDER BY seq`, func(data string) error {
		v := &contracts.UsageRecord{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.PartnerProgramUsage = append(state.PartnerProgramUsage, v)
		return nil
	}); err != nil {
		return fmt.Errorf("store: load usage: %w", err)
	}
	if err := s.loadJournal(ctx, `SELECT data FROM partner_rollout_policy_audit ORDER BY seq`, func(data string) error {
		v := &contracts.PolicyAuditEntry{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.PartnerRolloutPolicyAudit = append(state.PartnerRolloutPolicyAudit, v)
		return nil
	}); err != nil {
		return fmt.Errorf("store: load policy audit: %w", err)
	}

	if err := s.loadJSONMap(ctx, `SELECT kind, data FROM export_checkpoints ORDER BY kind, checkpoint_hash`, func(kind, data string) error {
		v := &contracts.ExportCheckpoint{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return err
		}
		state.ExportCheckpoints[kind] = append(state.ExportCheckpoints[kind], v)
		return nil
	}); err != nil {
		return fmt.Errorf("store: load export checkpoints: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT resource_id, partner_id FROM tenancy_proposals`, func(id, pid string) error {
		state.Tenancy.Proposals[id] = pid
		return nil
	}); err != nil {
		return fmt.Errorf("store: load tenancy.proposals: %w", err)
	}
	if err := s.loadJSONMap(ctx, `SELECT resource_id, partner_id FROM tenancy_cycles`, func(id, pid string) error {
		state.Tenancy.Cycles[id] = pid
		return nil
	}); err != nil {
		return fmt.Errorf("store: load tenancy.cycles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT journal, head, length FROM chain_heads`)
	if err != nil {
		return fmt.Errorf("store: load chain heads: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var journal, head string
		var length int
		if err := rows.Scan(&journal, &head, &length); err != nil {
			return fmt.Errorf("store: scan chain head: %w", err)
		}
		state.ChainHeads[journal] = ChainHead{Head: head, Length: length}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: load chain heads: %w", err)
	}

	state.reindex()
	s.state = state
	s.log.Info("database loaded", "events", len(state.Events), "receipts", len(state.Receipts))
	return nil
}

func (s *SQLStore) loadJSONMap(ctx context.Context, query string, add func(id, data string) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return err
		}
		if err := add(id, data); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadJournal(ctx context.Context, query string, add func(data string) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return err
		}
		if err := add(data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Save synchronizes the tree to tables in one transaction. Map rows are
// upserted; journal rows past the persisted length are appended. Nothing
// in the tree ever deletes a row.
func (s *SQLStore) Save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked(ctx, s.state)
}

func (s *SQLStore) saveLocked(ctx context.Context, state *State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save: %w", err)
	}
	if err := syncTx(ctx, tx, state); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit save: %w", err)
	}
	return nil
}

func syncTx(ctx context.Context, tx *sql.Tx, state *State) error {
	if err := upsertMeta(ctx, tx, "schema_version", state.SchemaVersion); err != nil {
		return fmt.Errorf("store: save schema version: %w", err)
	}

	type mapTable struct {
		table string
		idCol string
		rows  func() (ids []string, values []any)
	}
	mapTables := []mapTable{
		{"intents", "intent_id", func() ([]string, []any) { return intentRows(state) }},
		{"proposals", "proposal_id", func() ([]string, []any) { return proposalRows(state) }},
		{"commits", "proposal_id", func() ([]string, []any) { return commitRows(state) }},
		{"timelines", "cycle_id", func() ([]string, []any) { return timelineRows(state) }},
		{"vault_holdings", "holding_id", func() ([]string, []any) { return holdingRows(state) }},
		{"idempotency", "scope_key", func() ([]string, []any) { return idempotencyRows(state) }},
		{"delegations", "delegation_id", func() ([]string, []any) { return delegationRows(state) }},
		{"partner_program", "partner_id", func() ([]string, []any) { return programRows(state) }},
		{"partner_rollout_policies", "partner_id", func() ([]string, []any) { return policyRows(state) }},
	}
	for _, mt := range mapTables {
		ids, values := mt.rows()
		for i, id := range ids {
			if err := upsertJSONRow(ctx, tx, mt.table, mt.idCol, id, values[i]); err != nil {
				return fmt.Errorf("store: save %s: %w", mt.table, err)
			}
		}
	}

	for i, r := range state.Receipts {
		if err := insertJournalRow(ctx, tx,
			`INSERT INTO receipts (seq, receipt_id, data) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			i+1, r.ID, r); err != nil {
			return fmt.Errorf("store: save receipts: %w", err)
		}
	}
	for i, snap := range state.VaultCustodySnapshots {
		if err := insertJournalRow(ctx, tx,
			`INSERT INTO vault_custody_snapshots (seq, snapshot_id, data) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			i+1, snap.SnapshotID, snap); err != nil {
			return fmt.Errorf("store: save custody snapshots: %w", err)
		}
	}
	for i, e := range state.Events {
		if err := insertJournalRow(ctx, tx,
			`INSERT INTO events (seq, event_id, data) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			i+1, e.EventID, e); err != nil {
			return fmt.Errorf("store: save events: %w", err)
		}
	}
	for i, rec := range state.PartnerProgramUsage {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("store: save usage: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO partner_program_usage (seq, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			i+1, string(data)); err != nil {
			return fmt.Errorf("store: save usage: %w", err)
		}
	}
	for i, entry := range state.PartnerRolloutPolicyAudit {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("store: save policy audit: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO partner_rollout_policy_audit (seq, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			i+1, string(data)); err != nil {
			return fmt.Errorf("store: save policy audit: %w", err)
		}
	}

	kinds := make([]string, 0, len(state.ExportCheckpoints))
	for kind := range state.ExportCheckpoints {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		for _, cp := range state.ExportCheckpoints[kind] {
			data, err := json.Marshal(cp)
			if err != nil {
				return fmt.Errorf("store: save export checkpoints: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO export_checkpoints (kind, checkpoint_hash, data) VALUES ($1, $2, $3)
				 ON CONFLICT (kind, checkpoint_hash) DO UPDATE SET data = excluded.data`,
				kind, cp.CheckpointHash, string(data)); err != nil {
				return fmt.Errorf("store: save export checkpoints: %w", err)
			}
		}
	}

	for id, pid := range state.Tenancy.Proposals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenancy_proposals (resource_id, partner_id) VALUES ($1, $2)
			 ON CONFLICT (resource_id) DO UPDATE SET partner_id = excluded.partner_id`,
			id, pid); err != nil {
			return fmt.Errorf("store: save tenancy.proposals: %w", err)
		}
	}
	for id, pid := range state.Tenancy.Cycles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenancy_cycles (resource_id, partner_id) VALUES ($1, $2)
			 ON CONFLICT (resource_id) DO UPDATE SET partner_id = excluded.partner_id`,
			id, pid); err != nil {
			return fmt.Errorf("store: save tenancy.cycles: %w", err)
		}
	}
	for journal, head := range state.ChainHeads {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chain_heads (journal, head, length) VALUES ($1, $2, $3)
			 ON CONFLICT (journal) DO UPDATE SET head = excluded.head, length = excluded.length`,
			journal, head.Head, head.Length); err != nil {
			return fmt.Errorf("store: save chain heads: %w", err)
		}
	}
	return nil
}

func upsertJSONRow(ctx context.Context, tx *sql.Tx, table, idCol, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s, data) VALUES ($1, $2) ON CONFLICT (%s) DO UPDATE SET data = excluded.data`,
		table, idCol, idCol)
	_, err = tx.ExecContext(ctx, query, id, string(data))
	return err
}

func insertJournalRow(ctx context.Context, tx *sql.Tx, query string, seq int, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, seq, id, string(data))
	return err
}

func upsertMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (s *SQLStore) meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: read meta %s: %w", key, err)
	}
	return value, true, nil
}

// Meta reads one marker row.
func (s *SQLStore) Meta(ctx context.Context, key string) (string, bool, error) {
	return s.meta(ctx, key)
}

// SetMeta upserts one marker row outside a save transaction.
func (s *SQLStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: set meta %s: %w", key, err)
	}
	return nil
}

// View runs fn with shared read access to the live tree.
func (s *SQLStore) View(fn func(*State) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// Update applies fn to a clone, persists it transactionally, then
// installs it.
func (s *SQLStore) Update(ctx context.Context, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone, err := s.state.Clone()
	if err != nil {
		return err
	}
	if err := fn(clone); err != nil {
		return err
	}
	if err := s.saveLocked(ctx, clone); err != nil {
		return err
	}
	s.state = clone
	return nil
}

// ReplaceState swaps in a fully-built tree and persists it. Used by the
// JSON-to-SQL migration.
func (s *SQLStore) ReplaceState(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.ensureMaps()
	if err := s.saveLocked(ctx, state); err != nil {
		return err
	}
	s.state = state
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func intentRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.Intents)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.Intents[id]
	}
	return ids, values
}

func proposalRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.Proposals)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.Proposals[id]
	}
	return ids, values
}

func commitRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.Commits)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.Commits[id]
	}
	return ids, values
}

func timelineRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.Timelines)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.Timelines[id]
	}
	return ids, values
}

func holdingRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.VaultHoldings)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.VaultHoldings[id]
	}
	return ids, values
}

func idempotencyRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.Idempotency)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.Idempotency[id]
	}
	return ids, values
}

func delegationRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.Delegations)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.Delegations[id]
	}
	return ids, values
}

func programRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.PartnerProgram)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.PartnerProgram[id]
	}
	return ids, values
}

func policyRows(state *State) ([]string, []any) {
	ids := sortedKeys(state.PartnerRolloutPolicies)
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = state.PartnerRolloutPolicies[id]
	}
	return ids, values
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

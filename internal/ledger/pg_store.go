package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/gate"
)

// PGStore persists proof artifacts into Postgres. The table is insert-only;
// revoking UPDATE/DELETE from the service role provides the operational
// append-only guarantee.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// schema pins the column types the chain depends on: ts is timestamptz, which
// stores microseconds, matching the precision artifacts are hashed at.
const schema = `
	CREATE TABLE IF NOT EXISTS proof_artifacts (
		sequence_index BIGINT PRIMARY KEY,
		ts             TIMESTAMPTZ NOT NULL,
		decision_id    TEXT NOT NULL UNIQUE,
		decision_type  TEXT NOT NULL,
		champion_id    TEXT NOT NULL,
		challenger_id  TEXT NOT NULL,
		gate_result    JSONB NOT NULL,
		reason         TEXT NOT NULL DEFAULT '',
		cost_incurred  DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata       JSONB,
		prev_hash      TEXT NOT NULL,
		current_hash   TEXT NOT NULL,
		signature      TEXT,
		signer_id      TEXT
	)
`

// EnsureSchema creates the proof_artifacts table when it does not exist.
func (p *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure proof_artifacts schema: %w", err)
	}
	return nil
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PGStore) Append(ctx context.Context, a *ProofArtifact) error {
	gateJSON, err := json.Marshal(a.Gate)
	if err != nil {
		return fmt.Errorf("marshal gate result: %w", err)
	}
	var metaJSON []byte
	if a.Metadata != nil {
		metaJSON, err = json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	} else {
		metaJSON = []byte("null")
	}

	q := `
		INSERT INTO proof_artifacts
		  (sequence_index, ts, decision_id, decision_type, champion_id, challenger_id,
		   gate_result, reason, cost_incurred, metadata, prev_hash, current_hash, signature, signer_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`
	_, err = p.db.ExecContext(ctx, q,
		a.SequenceIndex,
		a.Timestamp,
		a.DecisionID,
		string(a.DecisionType),
		a.ChampionID,
		a.ChallengerID,
		gateJSON,
		a.Reason,
		a.CostIncurred,
		metaJSON,
		a.PrevHash,
		a.CurrentHash,
		a.Signature,
		a.SignerID,
	)
	if err != nil {
		return fmt.Errorf("insert proof_artifact: %w", err)
	}
	return nil
}

const selectColumns = `sequence_index, ts, decision_id, decision_type, champion_id, challenger_id,
	gate_result, reason, cost_incurred, metadata, prev_hash, current_hash, signature, signer_id`

func (p *PGStore) ReadAll(ctx context.Context) ([]ProofArtifact, error) {
	q := `SELECT ` + selectColumns + ` FROM proof_artifacts ORDER BY sequence_index ASC`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query proof_artifacts: %w", err)
	}
	defer rows.Close()

	var out []ProofArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (p *PGStore) Tail(ctx context.Context) (*ProofArtifact, error) {
	q := `SELECT ` + selectColumns + ` FROM proof_artifacts ORDER BY sequence_index DESC LIMIT 1`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query tail: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("tail iteration: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanArtifact(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row rowScanner) (*ProofArtifact, error) {
	var (
		a            ProofArtifact
		decisionType string
		gateJSON     []byte
		metaJSON     []byte
		signature    sql.NullString
		signerID     sql.NullString
	)
	if err := row.Scan(
		&a.SequenceIndex,
		&a.Timestamp,
		&a.DecisionID,
		&decisionType,
		&a.ChampionID,
		&a.ChallengerID,
		&gateJSON,
		&a.Reason,
		&a.CostIncurred,
		&metaJSON,
		&a.PrevHash,
		&a.CurrentHash,
		&signature,
		&signerID,
	); err != nil {
		return nil, fmt.Errorf("scan proof_artifact: %w", err)
	}
	a.DecisionType = DecisionType(decisionType)
	if len(gateJSON) > 0 {
		var g gate.Result
		if err := json.Unmarshal(gateJSON, &g); err != nil {
			return nil, fmt.Errorf("decode gate result: %w", err)
		}
		a.Gate = g
	}
	if len(metaJSON) > 0 && string(metaJSON) != "null" {
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	a.Signature = signature.String
	a.SignerID = signerID.String
	return &a, nil
}

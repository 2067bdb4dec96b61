package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/collection-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS assets (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL DEFAULT '',
	current_fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS flows (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'pending',
	error      TEXT NOT NULL DEFAULT '',
	asset_ids  JSONB NOT NULL,
	gaps       JSONB NOT NULL,
	tenant     JSONB NOT NULL DEFAULT '{}'::jsonb,
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS questionnaires (
	flow_id    TEXT NOT NULL REFERENCES flows(id),
	version    INTEGER NOT NULL,
	body       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (flow_id, version)
);

CREATE INDEX IF NOT EXISTS idx_flows_status ON flows(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Assets ---

func (s *PostgresStore) UpsertAssets(ctx context.Context, assets []model.Asset) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert assets")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, a := range assets {
		if a.ID == "" {
			return 0, eris.New("postgres: asset without id")
		}
		fields, err := json.Marshal(nonNilFields(a.CurrentFields))
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal fields for %s", a.ID)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO assets (id, name, type, current_fields, updated_at) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
			   current_fields = EXCLUDED.current_fields, updated_at = EXCLUDED.updated_at`,
			a.ID, a.Name, a.Type, fields, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert asset %s", a.ID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert assets")
	}
	return len(assets), nil
}

func (s *PostgresStore) GetAssets(ctx context.Context, ids []string) ([]model.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, type, current_fields FROM assets WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get assets")
	}
	defer rows.Close()

	byID := make(map[string]model.Asset, len(ids))
	for rows.Next() {
		var a model.Asset
		var fields []byte
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &fields); err != nil {
			return nil, eris.Wrap(err, "postgres: scan asset")
		}
		if err := json.Unmarshal(fields, &a.CurrentFields); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal fields for %s", a.ID)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: get assets iterate")
	}
	return orderAssets(ids, byID), nil
}

// --- Flows ---

func (s *PostgresStore) CreateFlow(ctx context.Context, flow *model.Flow) error {
	if err := validateFlow(flow); err != nil {
		return eris.Wrap(err, "postgres: create flow")
	}
	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	flow.Status = model.FlowStatusPending
	flow.Error = ""
	flow.Report = nil
	flow.CreatedAt, flow.UpdatedAt = now, now

	assetIDs, gaps, tenant, err := marshalFlowParts(flow)
	if err != nil {
		return eris.Wrap(err, "postgres: create flow")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO flows (id, status, error, asset_ids, gaps, tenant, created_at, updated_at) VALUES ($1, $2, '', $3, $4, $5, $6, $7)`,
		flow.ID, string(flow.Status), assetIDs, gaps, tenant, now, now,
	)
	return eris.Wrap(err, "postgres: insert flow")
}

const postgresFlowColumns = `id, status, error, asset_ids, gaps, tenant, report, created_at, updated_at`

func (s *PostgresStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresFlowColumns+` FROM flows WHERE id = $1`, id)
	f, err := scanPgFlow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "flow %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get flow %s", id)
	}
	return f, nil
}

func (s *PostgresStore) ListFlows(ctx context.Context, filter FlowFilter) ([]model.Flow, error) {
	query := `SELECT ` + postgresFlowColumns + ` FROM flows WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list flows")
	}
	defer rows.Close()

	var flows []model.Flow
	for rows.Next() {
		f, err := scanPgFlow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan flow")
		}
		flows = append(flows, *f)
	}
	return flows, eris.Wrap(rows.Err(), "postgres: list flows iterate")
}

func (s *PostgresStore) TransitionFlow(ctx context.Context, id string, from, to model.FlowStatus, reason string) error {
	if to != model.FlowStatusFailed {
		reason = ""
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE flows SET status = $1, error = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(to), reason, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition flow %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM flows WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "flow %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read status of flow %s", id)
	}
	return eris.Wrapf(ErrConflict, "flow %s is %s, expected %s", id, current, from)
}

func (s *PostgresStore) SaveReport(ctx context.Context, id string, report *model.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE flows SET report = $1, updated_at = $2 WHERE id = $3`,
		data, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save report %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "flow %s", id)
	}
	return nil
}

// --- Questionnaires ---

func (s *PostgresStore) SaveQuestionnaire(ctx context.Context, q *model.Questionnaire) (int, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal questionnaire")
	}
	var version int
	err = s.pool.QueryRow(ctx,
		`INSERT INTO questionnaires (flow_id, version, body, created_at)
		 SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3 FROM questionnaires WHERE flow_id = $1
		 RETURNING version`,
		q.FlowID, body, time.Now().UTC(),
	).Scan(&version)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert questionnaire for %s", q.FlowID)
	}
	return version, nil
}

func (s *PostgresStore) GetQuestionnaire(ctx context.Context, flowID string) (*model.Questionnaire, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM questionnaires WHERE flow_id = $1 ORDER BY version DESC LIMIT 1`,
		flowID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "questionnaire for flow %s", flowID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get questionnaire %s", flowID)
	}
	var q model.Questionnaire
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal questionnaire")
	}
	return &q, nil
}

func scanPgFlow(row pgx.Row) (*model.Flow, error) {
	var f model.Flow
	var status string
	var assetIDs, gaps, tenant []byte
	var report *[]byte

	if err := row.Scan(&f.ID, &status, &f.Error, &assetIDs, &gaps, &tenant, &report, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = model.FlowStatus(status)
	if err := unmarshalFlowParts(&f, assetIDs, gaps, tenant); err != nil {
		return nil, err
	}
	if report != nil {
		f.Report = &model.RunReport{}
		if err := json.Unmarshal(*report, f.Report); err != nil {
			return nil, eris.Wrap(err, "unmarshal report")
		}
	}
	return &f, nil
}

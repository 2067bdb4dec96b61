package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/collection-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS assets (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL DEFAULT '',
	current_fields TEXT NOT NULL DEFAULT '{}',
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS flows (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'pending',
	error      TEXT NOT NULL DEFAULT '',
	asset_ids  TEXT NOT NULL,
	gaps       TEXT NOT NULL,
	tenant     TEXT NOT NULL DEFAULT '{}',
	report     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS questionnaires (
	flow_id    TEXT NOT NULL REFERENCES flows(id),
	version    INTEGER NOT NULL,
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (flow_id, version)
);

CREATE INDEX IF NOT EXISTS idx_flows_status ON flows(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Assets ---

func (s *SQLiteStore) UpsertAssets(ctx context.Context, assets []model.Asset) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert assets")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, a := range assets {
		if a.ID == "" {
			return 0, eris.New("sqlite: asset without id")
		}
		fields, err := json.Marshal(nonNilFields(a.CurrentFields))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal fields for %s", a.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assets (id, name, type, current_fields, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type,
			   current_fields = excluded.current_fields, updated_at = excluded.updated_at`,
			a.ID, a.Name, a.Type, string(fields), now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert asset %s", a.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert assets")
	}
	return len(assets), nil
}

func (s *SQLiteStore) GetAssets(ctx context.Context, ids []string) ([]model.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, current_fields FROM assets WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get assets")
	}
	defer rows.Close()

	byID := make(map[string]model.Asset, len(ids))
	for rows.Next() {
		var a model.Asset
		var fields string
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &fields); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan asset")
		}
		if err := json.Unmarshal([]byte(fields), &a.CurrentFields); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal fields for %s", a.ID)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: get assets iterate")
	}
	return orderAssets(ids, byID), nil
}

// --- Flows ---

func (s *SQLiteStore) CreateFlow(ctx context.Context, flow *model.Flow) error {
	if err := validateFlow(flow); err != nil {
		return eris.Wrap(err, "sqlite: create flow")
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
		return eris.Wrap(err, "sqlite: create flow")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (id, status, error, asset_ids, gaps, tenant, created_at, updated_at) VALUES (?, ?, '', ?, ?, ?, ?, ?)`,
		flow.ID, string(flow.Status), string(assetIDs), string(gaps), string(tenant), now, now,
	)
	return eris.Wrap(err, "sqlite: insert flow")
}

const sqliteFlowColumns = `id, status, error, asset_ids, gaps, tenant, report, created_at, updated_at`

func (s *SQLiteStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteFlowColumns+` FROM flows WHERE id = ?`, id)
	f, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "flow %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get flow %s", id)
	}
	return f, nil
}

func (s *SQLiteStore) ListFlows(ctx context.Context, filter FlowFilter) ([]model.Flow, error) {
	query := `SELECT ` + sqliteFlowColumns + ` FROM flows WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list flows")
	}
	defer rows.Close()

	var flows []model.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flow")
		}
		flows = append(flows, *f)
	}
	return flows, eris.Wrap(rows.Err(), "sqlite: list flows iterate")
}

func (s *SQLiteStore) TransitionFlow(ctx context.Context, id string, from, to model.FlowStatus, reason string) error {
	if to != model.FlowStatusFailed {
		reason = ""
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flows SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), reason, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition flow %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.transitionMiss(ctx, id, from)
	}
	return nil
}

// transitionMiss distinguishes a missing flow from one in another status.
func (s *SQLiteStore) transitionMiss(ctx context.Context, id string, from model.FlowStatus) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM flows WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "flow %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read status of flow %s", id)
	}
	return eris.Wrapf(ErrConflict, "flow %s is %s, expected %s", id, current, from)
}

func (s *SQLiteStore) SaveReport(ctx context.Context, id string, report *model.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flows SET report = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save report %s", id)
	}
	return checkRowsAffected(res, "flow", id)
}

// --- Questionnaires ---

func (s *SQLiteStore) SaveQuestionnaire(ctx context.Context, q *model.Questionnaire) (int, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal questionnaire")
	}
	var version int
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO questionnaires (flow_id, version, body, created_at)
		 SELECT ?, COALESCE(MAX(version), 0) + 1, ?, ? FROM questionnaires WHERE flow_id = ?
		 RETURNING version`,
		q.FlowID, string(body), time.Now().UTC(), q.FlowID,
	).Scan(&version)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert questionnaire for %s", q.FlowID)
	}
	return version, nil
}

func (s *SQLiteStore) GetQuestionnaire(ctx context.Context, flowID string) (*model.Questionnaire, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM questionnaires WHERE flow_id = ? ORDER BY version DESC LIMIT 1`,
		flowID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "questionnaire for flow %s", flowID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get questionnaire %s", flowID)
	}
	var q model.Questionnaire
	if err := json.Unmarshal([]byte(body), &q); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal questionnaire")
	}
	return &q, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFlow(row scannable) (*model.Flow, error) {
	var f model.Flow
	var assetIDs, gaps, tenant []byte
	var report sql.NullString

	if err := row.Scan(&f.ID, &f.Status, &f.Error, &assetIDs, &gaps, &tenant, &report, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalFlowParts(&f, assetIDs, gaps, tenant); err != nil {
		return nil, err
	}
	if report.Valid && report.String != "" {
		f.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(report.String), f.Report); err != nil {
			return nil, eris.Wrap(err, "unmarshal report")
		}
	}
	return &f, nil
}

func marshalFlowParts(f *model.Flow) (assetIDs, gaps, tenant []byte, err error) {
	if assetIDs, err = json.Marshal(f.AssetIDs); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal asset ids")
	}
	g := f.Gaps
	if g == nil {
		g = []model.Gap{}
	}
	if gaps, err = json.Marshal(g); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal gaps")
	}
	if tenant, err = json.Marshal(f.Tenant); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal tenant")
	}
	return assetIDs, gaps, tenant, nil
}

func unmarshalFlowParts(f *model.Flow, assetIDs, gaps, tenant []byte) error {
	if err := json.Unmarshal(assetIDs, &f.AssetIDs); err != nil {
		return eris.Wrap(err, "unmarshal asset ids")
	}
	if err := json.Unmarshal(gaps, &f.Gaps); err != nil {
		return eris.Wrap(err, "unmarshal gaps")
	}
	if len(tenant) > 0 {
		if err := json.Unmarshal(tenant, &f.Tenant); err != nil {
			return eris.Wrap(err, "unmarshal tenant")
		}
	}
	return nil
}

func nonNilFields(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS blocks (
	sitting_id   TEXT NOT NULL,
	number       INTEGER NOT NULL,
	previous     INTEGER,
	timestamp    DATETIME NOT NULL,
	category     TEXT NOT NULL,
	content      TEXT NOT NULL,
	metadata     TEXT,
	speaker_id   TEXT,
	speaker_name TEXT,
	vote_ref     TEXT,
	PRIMARY KEY (sitting_id, number)
);

CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	province_id TEXT,
	active_from DATETIME,
	active_to   DATETIME
);

CREATE TABLE IF NOT EXISTS name_variants (
	entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	provenance TEXT NOT NULL,
	name       TEXT NOT NULL,
	PRIMARY KEY (entity_id, provenance, name)
);

CREATE TABLE IF NOT EXISTS speaker_aliases (
	key       TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS escalations (
	id           TEXT PRIMARY KEY,
	key          TEXT NOT NULL UNIQUE,
	sitting_id   TEXT,
	kind         TEXT NOT NULL,
	provenance   TEXT NOT NULL,
	scope        TEXT,
	search_names TEXT NOT NULL,
	candidates   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	decision     TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	decided_at   DATETIME
);

CREATE TABLE IF NOT EXISTS sitting_reports (
	sitting_id TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	blocks     INTEGER NOT NULL DEFAULT 0,
	detail     TEXT,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_blocks_speaker ON blocks(speaker_id);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);
CREATE INDEX IF NOT EXISTS idx_escalations_sitting ON escalations(sitting_id);
CREATE INDEX IF NOT EXISTS idx_sitting_reports_status ON sitting_reports(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Blocks ---

func (s *SQLiteStore) SaveSitting(ctx context.Context, in SittingSave) error {
	if err := checkChain(in); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save sitting")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE sitting_id = ?`, in.SittingID); err != nil {
		return eris.Wrapf(err, "sqlite: clear sitting %s", in.SittingID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO blocks (sitting_id, number, previous, timestamp, category, content, metadata, speaker_id, speaker_name, vote_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare block insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, b := range in.Blocks {
		row, err := encodeBlock(b)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			b.SittingID, b.Number, b.Previous, b.Timestamp.UTC(), string(b.Category),
			string(row.content), string(row.metadata), nullString(b.SpeakerID), string(row.speakerName), nullString(b.VoteRef),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert block %s/%d", b.SittingID, b.Number)
		}
	}

	for _, v := range in.Variants {
		if err := addVariant(ctx, tx, v.EntityID, v.NameVariant); err != nil {
			return err
		}
	}
	for key, id := range in.Aliases {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO speaker_aliases (key, entity_id) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET entity_id = excluded.entity_id`,
			key, id,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save alias %s", key)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit sitting %s", in.SittingID)
}

const blockColumns = `sitting_id, number, previous, timestamp, category, content, metadata, speaker_id, speaker_name, vote_ref`

func (s *SQLiteStore) ListBlocks(ctx context.Context, sittingID string) ([]model.Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE sitting_id = ? ORDER BY number`,
		sittingID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list blocks")
	}
	defer rows.Close() //nolint:errcheck

	var blocks []model.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, eris.Wrap(rows.Err(), "sqlite: list blocks iterate")
}

func (s *SQLiteStore) GetBlock(ctx context.Context, sittingID string, number int) (*model.Block, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE sitting_id = ? AND number = ?`,
		sittingID, number,
	)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: block %s/%d", sittingID, number)
	}
	return b, err
}

// --- Entities ---

func (s *SQLiteStore) UpsertEntity(ctx context.Context, e model.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert entity")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertEntity(ctx, tx, e); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit entity")
}

func (s *SQLiteStore) ImportEntities(ctx context.Context, entities []model.Entity) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entities {
		if err := upsertEntity(ctx, tx, e); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return len(entities), nil
}

func upsertEntity(ctx context.Context, tx *sql.Tx, e model.Entity) error {
	if e.ID == "" || !e.Kind.Valid() {
		return eris.Errorf("sqlite: entity %q of kind %q is not storable", e.ID, e.Kind)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entities (id, kind, name, province_id, active_from, active_to) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, name = excluded.name,
		   province_id = excluded.province_id, active_from = excluded.active_from, active_to = excluded.active_to`,
		e.ID, string(e.Kind), e.Name, nullString(e.ProvinceID), nullTime(e.ActiveFrom), nullTime(e.ActiveTo),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert entity %s", e.ID)
	}
	for _, v := range e.Variants {
		if err := addVariant(ctx, tx, e.ID, v); err != nil {
			return err
		}
	}
	return nil
}

func addVariant(ctx context.Context, tx *sql.Tx, entityID string, v model.NameVariant) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO name_variants (entity_id, provenance, name) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		entityID, v.Provenance, v.Name,
	)
	return eris.Wrapf(err, "sqlite: add variant %q to %s", v.Name, entityID)
}

func (s *SQLiteStore) AddNameVariant(ctx context.Context, entityID string, v model.NameVariant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add variant")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := addVariant(ctx, tx, entityID, v); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit variant")
}

// entityWhere builds the shared WHERE clause for entity listings over the
// entities table aliased as e.
func entityWhere(filter EntityFilter) (string, []any) {
	clause := ` WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		clause += ` AND e.kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.ActiveTo != nil {
		clause += ` AND (e.active_from IS NULL OR e.active_from <= ?)`
		args = append(args, filter.ActiveTo.UTC())
	}
	if filter.ActiveFrom != nil {
		clause += ` AND (e.active_to IS NULL OR e.active_to >= ?)`
		args = append(args, filter.ActiveFrom.UTC())
	}
	return clause, args
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	where, args := entityWhere(filter)

	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.kind, e.name, e.province_id, e.active_from, e.active_to FROM entities e`+where+` ORDER BY e.id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close() //nolint:errcheck

	var entities []model.Entity
	index := make(map[string]int)
	for rows.Next() {
		var e model.Entity
		var province sql.NullString
		var from, to sql.NullTime
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &province, &from, &to); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		e.ProvinceID = province.String
		e.ActiveFrom = timePtr(from)
		e.ActiveTo = timePtr(to)
		index[e.ID] = len(entities)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities iterate")
	}

	vrows, err := s.db.QueryContext(ctx,
		`SELECT v.entity_id, v.provenance, v.name FROM name_variants v JOIN entities e ON e.id = v.entity_id`+where+
			` ORDER BY v.rowid`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list variants")
	}
	defer vrows.Close() //nolint:errcheck

	for vrows.Next() {
		var id string
		var v model.NameVariant
		if err := vrows.Scan(&id, &v.Provenance, &v.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan variant")
		}
		if i, ok := index[id]; ok {
			entities[i].Variants = append(entities[i].Variants, v)
		}
	}
	return entities, eris.Wrap(vrows.Err(), "sqlite: list variants iterate")
}

func (s *SQLiteStore) LoadAliases(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, entity_id FROM speaker_aliases`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load aliases")
	}
	defer rows.Close() //nolint:errcheck

	aliases := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alias")
		}
		aliases[key] = id
	}
	return aliases, eris.Wrap(rows.Err(), "sqlite: load aliases iterate")
}

// --- Escalations ---

func (s *SQLiteStore) PutEscalation(ctx context.Context, esc *model.Escalation) error {
	row, err := encodeEscalation(esc)
	if err != nil {
		return err
	}
	created := esc.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO escalations (id, key, sitting_id, kind, provenance, scope, search_names, candidates, status, decision, created_at, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET sitting_id = excluded.sitting_id, search_names = excluded.search_names,
		   candidates = excluded.candidates, status = excluded.status, decision = excluded.decision,
		   decided_at = excluded.decided_at`,
		esc.ID, esc.Key, nullString(esc.SittingID), string(esc.Kind), esc.Provenance, nullString(esc.Scope),
		string(row.searchNames), string(row.candidates), string(esc.Status), string(row.decision),
		created.UTC(), nullTime(esc.DecidedAt),
	)
	return eris.Wrapf(err, "sqlite: put escalation %s", esc.Key)
}

const escalationColumns = `id, key, sitting_id, kind, provenance, scope, search_names, candidates, status, decision, created_at, decided_at`

func (s *SQLiteStore) GetEscalationByKey(ctx context.Context, key string) (*model.Escalation, error) {
	esc, err := scanEscalation(s.db.QueryRowContext(ctx,
		`SELECT `+escalationColumns+` FROM escalations WHERE key = ?`, key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return esc, err
}

func (s *SQLiteStore) GetEscalation(ctx context.Context, id string) (*model.Escalation, error) {
	esc, err := scanEscalation(s.db.QueryRowContext(ctx,
		`SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: escalation %s", id)
	}
	return esc, err
}

func (s *SQLiteStore) ListEscalations(ctx context.Context, filter EscalationFilter) ([]model.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SittingID != "" {
		query += ` AND sitting_id = ?`
		args = append(args, filter.SittingID)
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list escalations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Escalation
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *esc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list escalations iterate")
}

func (s *SQLiteStore) DecideEscalation(ctx context.Context, id string, decision model.EscalationDecision) (*model.Escalation, error) {
	status, err := decision.Status()
	if err != nil {
		return nil, err
	}
	payload, err := encodeEscalation(&model.Escalation{Decision: decision})
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE escalations SET status = ?, decision = ?, decided_at = ? WHERE id = ?`,
		string(status), string(payload.decision), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: decide escalation %s", id)
	}
	if err := checkRowsAffected(res, "escalation", id); err != nil {
		return nil, err
	}
	return s.GetEscalation(ctx, id)
}

// --- Reports ---

func (s *SQLiteStore) RecordReport(ctx context.Context, r model.SittingReport) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sitting_reports (sitting_id, status, blocks, detail, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (sitting_id) DO UPDATE SET status = excluded.status, blocks = excluded.blocks,
		   detail = excluded.detail, updated_at = excluded.updated_at`,
		r.SittingID, string(r.Status), r.Blocks, nullString(r.Detail), updated.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record report %s", r.SittingID)
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.SittingReport, error) {
	query := `SELECT sitting_id, status, blocks, detail, updated_at FROM sitting_reports WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY sitting_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SittingReport
	for rows.Next() {
		var r model.SittingReport
		var detail sql.NullString
		if err := rows.Scan(&r.SittingID, &r.Status, &r.Blocks, &detail, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
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

func scanBlock(row scannable) (*model.Block, error) {
	var b model.Block
	var previous sql.NullInt64
	var speakerID, voteRef sql.NullString
	var content string
	var metadata, speakerName sql.NullString

	err := row.Scan(&b.SittingID, &b.Number, &previous, &b.Timestamp, &b.Category,
		&content, &metadata, &speakerID, &speakerName, &voteRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan block")
	}
	if previous.Valid {
		p := int(previous.Int64)
		b.Previous = &p
	}
	b.SpeakerID = speakerID.String
	b.VoteRef = voteRef.String
	err = decodeBlock(&b, blockRow{
		content:     []byte(content),
		metadata:    []byte(metadata.String),
		speakerName: []byte(speakerName.String),
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanEscalation(row scannable) (*model.Escalation, error) {
	var esc model.Escalation
	var sittingID, scope sql.NullString
	var searchNames, candidates, decision string
	var decidedAt sql.NullTime

	err := row.Scan(&esc.ID, &esc.Key, &sittingID, &esc.Kind, &esc.Provenance, &scope,
		&searchNames, &candidates, &esc.Status, &decision, &esc.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan escalation")
	}
	esc.SittingID = sittingID.String
	esc.Scope = scope.String
	esc.DecidedAt = timePtr(decidedAt)
	err = decodeEscalation(&esc, escalationRow{
		searchNames: []byte(searchNames),
		candidates:  []byte(candidates),
		decision:    []byte(decision),
	})
	if err != nil {
		return nil, err
	}
	return &esc, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/db"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS blocks (
	sitting_id   TEXT NOT NULL,
	number       INTEGER NOT NULL,
	previous     INTEGER,
	timestamp    TIMESTAMPTZ NOT NULL,
	category     TEXT NOT NULL,
	content      JSONB NOT NULL,
	metadata     JSONB,
	speaker_id   TEXT,
	speaker_name JSONB,
	vote_ref     TEXT,
	PRIMARY KEY (sitting_id, number)
);

CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	province_id TEXT,
	active_from TIMESTAMPTZ,
	active_to   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS name_variants (
	id         BIGSERIAL,
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
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	key          TEXT NOT NULL UNIQUE,
	sitting_id   TEXT,
	kind         TEXT NOT NULL,
	provenance   TEXT NOT NULL,
	scope        TEXT,
	search_names JSONB NOT NULL,
	candidates   JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	decision     JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	decided_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sitting_reports (
	sitting_id TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	blocks     INTEGER NOT NULL DEFAULT 0,
	detail     TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_blocks_speaker ON blocks(speaker_id);
CREATE INDEX IF NOT EXISTS idx_blocks_vote_ref ON blocks(vote_ref) WHERE vote_ref IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);
CREATE INDEX IF NOT EXISTS idx_escalations_sitting ON escalations(sitting_id);
CREATE INDEX IF NOT EXISTS idx_sitting_reports_status ON sitting_reports(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Blocks ---

var blockCopyColumns = []string{
	"sitting_id", "number", "previous", "timestamp", "category",
	"content", "metadata", "speaker_id", "speaker_name", "vote_ref",
}

func (s *PostgresStore) SaveSitting(ctx context.Context, in SittingSave) error {
	if err := checkChain(in); err != nil {
		return err
	}

	rows := make([][]any, 0, len(in.Blocks))
	for _, b := range in.Blocks {
		row, err := encodeBlock(b)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			b.SittingID, b.Number, b.Previous, b.Timestamp.UTC(), string(b.Category),
			row.content, row.metadata, textOrNil(b.SpeakerID), row.speakerName, textOrNil(b.VoteRef),
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save sitting")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM blocks WHERE sitting_id = $1`, in.SittingID); err != nil {
		return eris.Wrapf(err, "postgres: clear sitting %s", in.SittingID)
	}
	if _, err := db.CopyFrom(ctx, tx, "blocks", blockCopyColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy blocks for %s", in.SittingID)
	}
	for _, v := range in.Variants {
		if err := pgAddVariant(ctx, tx, v.EntityID, v.NameVariant); err != nil {
			return err
		}
	}
	for key, id := range in.Aliases {
		_, err := tx.Exec(ctx,
			`INSERT INTO speaker_aliases (key, entity_id) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET entity_id = EXCLUDED.entity_id`,
			key, id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: save alias %s", key)
		}
	}

	return eris.Wrapf(tx.Commit(ctx), "postgres: commit sitting %s", in.SittingID)
}

const pgBlockSelect = `SELECT sitting_id, number, previous, timestamp, category, content, metadata, speaker_id, speaker_name, vote_ref FROM blocks`

func (s *PostgresStore) ListBlocks(ctx context.Context, sittingID string) ([]model.Block, error) {
	rows, err := s.pool.Query(ctx, pgBlockSelect+` WHERE sitting_id = $1 ORDER BY number`, sittingID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list blocks")
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		b, err := pgScanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, eris.Wrap(rows.Err(), "postgres: list blocks iterate")
}

func (s *PostgresStore) GetBlock(ctx context.Context, sittingID string, number int) (*model.Block, error) {
	b, err := pgScanBlock(s.pool.QueryRow(ctx, pgBlockSelect+` WHERE sitting_id = $1 AND number = $2`, sittingID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: block %s/%d", sittingID, number)
	}
	return b, err
}

// --- Entities ---

func (s *PostgresStore) UpsertEntity(ctx context.Context, e model.Entity) error {
	if e.ID == "" || !e.Kind.Valid() {
		return eris.Errorf("postgres: entity %q of kind %q is not storable", e.ID, e.Kind)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert entity")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO entities (id, kind, name, province_id, active_from, active_to) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, name = EXCLUDED.name,
		   province_id = EXCLUDED.province_id, active_from = EXCLUDED.active_from, active_to = EXCLUDED.active_to`,
		e.ID, string(e.Kind), e.Name, textOrNil(e.ProvinceID), e.ActiveFrom, e.ActiveTo,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert entity %s", e.ID)
	}
	for _, v := range e.Variants {
		if err := pgAddVariant(ctx, tx, e.ID, v); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit entity")
}

// ImportEntities merges a large entity seed through temp tables and COPY.
func (s *PostgresStore) ImportEntities(ctx context.Context, entities []model.Entity) (int, error) {
	if len(entities) == 0 {
		return 0, nil
	}
	var entityRows, variantRows [][]any
	for _, e := range entities {
		if e.ID == "" || !e.Kind.Valid() {
			return 0, eris.Errorf("postgres: entity %q of kind %q is not storable", e.ID, e.Kind)
		}
		entityRows = append(entityRows, []any{e.ID, string(e.Kind), e.Name, textOrNil(e.ProvinceID), e.ActiveFrom, e.ActiveTo})
		for _, v := range e.Variants {
			variantRows = append(variantRows, []any{e.ID, v.Provenance, v.Name})
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin import")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
		Table:        "entities",
		Columns:      []string{"id", "kind", "name", "province_id", "active_from", "active_to"},
		ConflictKeys: []string{"id"},
	}, entityRows); err != nil {
		return 0, eris.Wrap(err, "postgres: import entities")
	}
	variantCols := []string{"entity_id", "provenance", "name"}
	if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
		Table:        "name_variants",
		Columns:      variantCols,
		ConflictKeys: variantCols,
	}, variantRows); err != nil {
		return 0, eris.Wrap(err, "postgres: import variants")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit import")
	}
	return len(entities), nil
}

func pgAddVariant(ctx context.Context, q db.Querier, entityID string, v model.NameVariant) error {
	_, err := q.Exec(ctx,
		`INSERT INTO name_variants (entity_id, provenance, name) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		entityID, v.Provenance, v.Name,
	)
	return eris.Wrapf(err, "postgres: add variant %q to %s", v.Name, entityID)
}

func (s *PostgresStore) AddNameVariant(ctx context.Context, entityID string, v model.NameVariant) error {
	return pgAddVariant(ctx, s.pool, entityID, v)
}

func pgEntityWhere(filter EntityFilter) (string, []any) {
	clause := ` WHERE true`
	args := []any{}
	argIdx := 1
	if filter.Kind != "" {
		clause += fmt.Sprintf(` AND e.kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.ActiveTo != nil {
		clause += fmt.Sprintf(` AND (e.active_from IS NULL OR e.active_from <= $%d)`, argIdx)
		args = append(args, *filter.ActiveTo)
		argIdx++
	}
	if filter.ActiveFrom != nil {
		clause += fmt.Sprintf(` AND (e.active_to IS NULL OR e.active_to >= $%d)`, argIdx)
		args = append(args, *filter.ActiveFrom)
	}
	return clause, args
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	where, args := pgEntityWhere(filter)

	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.kind, e.name, e.province_id, e.active_from, e.active_to FROM entities e`+where+` ORDER BY e.id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	index := make(map[string]int)
	for rows.Next() {
		var e model.Entity
		var province *string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &province, &e.ActiveFrom, &e.ActiveTo); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		if province != nil {
			e.ProvinceID = *province
		}
		index[e.ID] = len(entities)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list entities iterate")
	}

	vrows, err := s.pool.Query(ctx,
		`SELECT v.entity_id, v.provenance, v.name FROM name_variants v JOIN entities e ON e.id = v.entity_id`+where+` ORDER BY v.id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list variants")
	}
	defer vrows.Close()

	for vrows.Next() {
		var id string
		var v model.NameVariant
		if err := vrows.Scan(&id, &v.Provenance, &v.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan variant")
		}
		if i, ok := index[id]; ok {
			entities[i].Variants = append(entities[i].Variants, v)
		}
	}
	return entities, eris.Wrap(vrows.Err(), "postgres: list variants iterate")
}

func (s *PostgresStore) LoadAliases(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, entity_id FROM speaker_aliases`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load aliases")
	}
	defer rows.Close()

	aliases := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alias")
		}
		aliases[key] = id
	}
	return aliases, eris.Wrap(rows.Err(), "postgres: load aliases iterate")
}

// --- Escalations ---

func (s *PostgresStore) PutEscalation(ctx context.Context, esc *model.Escalation) error {
	row, err := encodeEscalation(esc)
	if err != nil {
		return err
	}
	created := esc.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO escalations (id, key, sitting_id, kind, provenance, scope, search_names, candidates, status, decision, created_at, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (key) DO UPDATE SET sitting_id = EXCLUDED.sitting_id, search_names = EXCLUDED.search_names,
		   candidates = EXCLUDED.candidates, status = EXCLUDED.status, decision = EXCLUDED.decision,
		   decided_at = EXCLUDED.decided_at`,
		esc.ID, esc.Key, textOrNil(esc.SittingID), string(esc.Kind), esc.Provenance, textOrNil(esc.Scope),
		row.searchNames, row.candidates, string(esc.Status), row.decision, created, esc.DecidedAt,
	)
	return eris.Wrapf(err, "postgres: put escalation %s", esc.Key)
}

const pgEscalationSelect = `SELECT id, key, sitting_id, kind, provenance, scope, search_names, candidates, status, decision, created_at, decided_at FROM escalations`

func (s *PostgresStore) GetEscalationByKey(ctx context.Context, key string) (*model.Escalation, error) {
	esc, err := pgScanEscalation(s.pool.QueryRow(ctx, pgEscalationSelect+` WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return esc, err
}

func (s *PostgresStore) GetEscalation(ctx context.Context, id string) (*model.Escalation, error) {
	esc, err := pgScanEscalation(s.pool.QueryRow(ctx, pgEscalationSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: escalation %s", id)
	}
	return esc, err
}

func (s *PostgresStore) ListEscalations(ctx context.Context, filter EscalationFilter) ([]model.Escalation, error) {
	query := pgEscalationSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.SittingID != "" {
		query += fmt.Sprintf(` AND sitting_id = $%d`, argIdx)
		args = append(args, filter.SittingID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list escalations")
	}
	defer rows.Close()

	var out []model.Escalation
	for rows.Next() {
		esc, err := pgScanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *esc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list escalations iterate")
}

func (s *PostgresStore) DecideEscalation(ctx context.Context, id string, decision model.EscalationDecision) (*model.Escalation, error) {
	status, err := decision.Status()
	if err != nil {
		return nil, err
	}
	payload, err := encodeEscalation(&model.Escalation{Decision: decision})
	if err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE escalations SET status = $1, decision = $2, decided_at = $3 WHERE id = $4`,
		string(status), payload.decision, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: decide escalation %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: escalation %s", id)
	}
	return s.GetEscalation(ctx, id)
}

// --- Reports ---

func (s *PostgresStore) RecordReport(ctx context.Context, r model.SittingReport) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sitting_reports (sitting_id, status, blocks, detail, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (sitting_id) DO UPDATE SET status = EXCLUDED.status, blocks = EXCLUDED.blocks,
		   detail = EXCLUDED.detail, updated_at = EXCLUDED.updated_at`,
		r.SittingID, string(r.Status), r.Blocks, textOrNil(r.Detail), updated,
	)
	return eris.Wrapf(err, "postgres: record report %s", r.SittingID)
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.SittingReport, error) {
	query := `SELECT sitting_id, status, blocks, detail, updated_at FROM sitting_reports WHERE true`
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY sitting_id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []model.SittingReport
	for rows.Next() {
		var r model.SittingReport
		var detail *string
		if err := rows.Scan(&r.SittingID, &r.Status, &r.Blocks, &detail, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		if detail != nil {
			r.Detail = *detail
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

// helpers

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func pgScanBlock(row pgx.Row) (*model.Block, error) {
	var b model.Block
	var previous *int32
	var speakerID, voteRef *string
	var r blockRow

	err := row.Scan(&b.SittingID, &b.Number, &previous, &b.Timestamp, &b.Category,
		&r.content, &r.metadata, &speakerID, &r.speakerName, &voteRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan block")
	}
	if previous != nil {
		p := int(*previous)
		b.Previous = &p
	}
	if speakerID != nil {
		b.SpeakerID = *speakerID
	}
	if voteRef != nil {
		b.VoteRef = *voteRef
	}
	if err := decodeBlock(&b, r); err != nil {
		return nil, err
	}
	return &b, nil
}

func pgScanEscalation(row pgx.Row) (*model.Escalation, error) {
	var esc model.Escalation
	var sittingID, scope *string
	var r escalationRow

	err := row.Scan(&esc.ID, &esc.Key, &sittingID, &esc.Kind, &esc.Provenance, &scope,
		&r.searchNames, &r.candidates, &esc.Status, &r.decision, &esc.CreatedAt, &esc.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan escalation")
	}
	if sittingID != nil {
		esc.SittingID = *sittingID
	}
	if scope != nil {
		esc.Scope = *scope
	}
	if err := decodeEscalation(&esc, r); err != nil {
		return nil, err
	}
	return &esc, nil
}

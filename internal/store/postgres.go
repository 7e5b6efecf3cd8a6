package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/civicgraph/repsync/internal/db"
	"github.com/civicgraph/repsync/internal/match"
	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/model"
	"github.com/civicgraph/repsync/internal/resilience"
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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"lookup_canonical": `SELECT canonical_id FROM crosswalk WHERE source_system = $1 AND source_id = $2`,
	"get_cursor":       `SELECT cursor FROM cursors WHERE source_system = $1`,
	"get_canonical":    `SELECT ` + pgCanonicalColumns + ` FROM canonical_records WHERE canonical_id = $1`,
	"candidates_by_blocking_key": `SELECT ` + pgCanonicalColumns +
		` FROM canonical_records WHERE blocking_key = $1`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cursors (
	source_system   TEXT PRIMARY KEY,
	cursor          JSONB NOT NULL,
	last_success_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS source_records (
	id            BIGSERIAL PRIMARY KEY,
	source_system TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	raw_fields    JSONB NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS crosswalk (
	source_system TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	canonical_id  TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	match_method  TEXT NOT NULL,
	last_verified TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_system, source_id)
);

CREATE TABLE IF NOT EXISTS canonical_records (
	canonical_id       TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	office             TEXT NOT NULL DEFAULT '',
	level              TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	district           TEXT NOT NULL DEFAULT '',
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	fields             JSONB NOT NULL,
	data_quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_seen          JSONB NOT NULL DEFAULT '{}',
	blocking_key       TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS field_provenance (
	id            BIGSERIAL PRIMARY KEY,
	canonical_id  TEXT NOT NULL,
	field_name    TEXT NOT NULL,
	old_value     TEXT NOT NULL DEFAULT '',
	new_value     TEXT NOT NULL,
	source_system TEXT NOT NULL DEFAULT '',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	match_method  TEXT NOT NULL DEFAULT '',
	run_id        TEXT NOT NULL DEFAULT '',
	changed_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id                    TEXT PRIMARY KEY,
	record                JSONB NOT NULL,
	candidates            JSONB NOT NULL,
	reason                TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'pending',
	resolved_canonical_id TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL,
	resolved_at           TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	source_states JSONB NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_source_records_key ON source_records(source_system, source_id, fetched_at DESC);
CREATE INDEX IF NOT EXISTS idx_crosswalk_canonical ON crosswalk(canonical_id);
CREATE INDEX IF NOT EXISTS idx_canonical_blocking ON canonical_records(blocking_key);
CREATE INDEX IF NOT EXISTS idx_canonical_query ON canonical_records(state, office, is_active);
CREATE INDEX IF NOT EXISTS idx_provenance_canonical ON field_provenance(canonical_id, id);
CREATE INDEX IF NOT EXISTS idx_review_status ON review_queue(status, created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
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

func (s *PostgresStore) GetCursor(ctx context.Context, system model.SourceSystem) (model.Cursor, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT cursor FROM cursors WHERE source_system = $1`, string(system),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Cursor{}, nil
	}
	if err != nil {
		return model.Cursor{}, eris.Wrapf(err, "postgres: get cursor %s", system)
	}

	var c model.Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return model.Cursor{}, eris.Wrapf(err, "postgres: decode cursor %s", system)
	}
	return c, nil
}

func (s *PostgresStore) PutCursor(ctx context.Context, system model.SourceSystem, cursor model.Cursor, successAt time.Time) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cursor")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cursors (source_system, cursor, last_success_at) VALUES ($1, $2, $3)
		ON CONFLICT (source_system) DO UPDATE SET cursor = EXCLUDED.cursor, last_success_at = EXCLUDED.last_success_at`,
		string(system), raw, successAt.UTC())
	return eris.Wrapf(err, "postgres: put cursor %s", system)
}

func (s *PostgresStore) SourceStatuses(ctx context.Context) ([]model.SourceStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_system, cursor, last_success_at FROM cursors ORDER BY source_system`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: source statuses")
	}
	defer rows.Close()

	var out []model.SourceStatus
	for rows.Next() {
		var system string
		var raw []byte
		var successAt *time.Time
		if err := rows.Scan(&system, &raw, &successAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source status")
		}
		st := model.SourceStatus{SourceSystem: model.SourceSystem(system), LastSuccessAt: successAt}
		if err := json.Unmarshal(raw, &st.Cursor); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode cursor %s", system)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendSourceRecords(ctx context.Context, records []model.SourceRecord) error {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		raw, err := json.Marshal(rec.RawFields)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal raw fields")
		}
		rows = append(rows, []any{string(rec.SourceSystem), rec.SourceID, raw, rec.FetchedAt.UTC()})
	}
	_, err := db.CopyFrom(ctx, s.pool, "source_records",
		[]string{"source_system", "source_id", "raw_fields", "fetched_at"}, rows)
	return eris.Wrap(err, "postgres: append source records")
}

func (s *PostgresStore) LatestSourceRecords(ctx context.Context, canonicalID string) ([]model.SourceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (sr.source_system, sr.source_id)
		       sr.source_system, sr.source_id, sr.raw_fields, sr.fetched_at
		FROM crosswalk cw
		JOIN source_records sr
		  ON sr.source_system = cw.source_system AND sr.source_id = cw.source_id
		WHERE cw.canonical_id = $1
		ORDER BY sr.source_system, sr.source_id, sr.fetched_at DESC`, canonicalID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest source records %s", canonicalID)
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		var system string
		var rec model.SourceRecord
		var raw []byte
		if err := rows.Scan(&system, &rec.SourceID, &raw, &rec.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source record")
		}
		rec.SourceSystem = model.SourceSystem(system)
		if err := json.Unmarshal(raw, &rec.RawFields); err != nil {
			return nil, eris.Wrap(err, "postgres: decode raw fields")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LookupCanonical(ctx context.Context, system model.SourceSystem, sourceID string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT canonical_id FROM crosswalk WHERE source_system = $1 AND source_id = $2`,
		string(system), sourceID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: lookup %s/%s", system, sourceID)
	}
	return id, true, nil
}

func (s *PostgresStore) CrosswalkEntries(ctx context.Context, canonicalID string) ([]model.CrosswalkEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_system, source_id, canonical_id, confidence, match_method, last_verified
		FROM crosswalk WHERE canonical_id = $1 ORDER BY source_system, source_id`, canonicalID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: crosswalk entries %s", canonicalID)
	}
	defer rows.Close()

	var out []model.CrosswalkEntry
	for rows.Next() {
		var e model.CrosswalkEntry
		var system, method string
		if err := rows.Scan(&system, &e.SourceID, &e.CanonicalID, &e.Confidence, &method, &e.LastVerified); err != nil {
			return nil, eris.Wrap(err, "postgres: scan crosswalk entry")
		}
		e.SourceSystem = model.SourceSystem(system)
		e.MatchMethod = model.MatchMethod(method)
		out = append(out, e)
	}
	return out, rows.Err()
}

const pgCanonicalColumns = `canonical_id, name, office, level, state, district, is_active,
	fields, data_quality_score, last_seen, created_at, updated_at`

func scanPgCanonical(scan func(...any) error) (*model.CanonicalRecord, error) {
	var rec model.CanonicalRecord
	var level string
	var fields, lastSeen []byte
	err := scan(&rec.CanonicalID, &rec.Name, &rec.Office, &level, &rec.Jurisdiction.State,
		&rec.Jurisdiction.District, &rec.IsActive, &fields, &rec.DataQualityScore, &lastSeen,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Level = model.Level(level)
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: decode fields")
	}
	if err := json.Unmarshal(lastSeen, &rec.LastSeenBySource); err != nil {
		return nil, eris.Wrap(err, "postgres: decode last_seen")
	}
	return &rec, nil
}

func (s *PostgresStore) GetCanonical(ctx context.Context, canonicalID string) (*model.CanonicalRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCanonicalColumns+` FROM canonical_records WHERE canonical_id = $1`, canonicalID)
	rec, err := scanPgCanonical(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get canonical %s", canonicalID)
	}
	return rec, nil
}

func (s *PostgresStore) ListCanonical(ctx context.Context, filter CanonicalFilter) ([]model.CanonicalRecord, error) {
	query := `SELECT ` + pgCanonicalColumns + ` FROM canonical_records WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.State != "" {
		query += ` AND state = ` + arg(filter.State)
	}
	if filter.Office != "" {
		query += ` AND office = ` + arg(filter.Office)
	}
	if filter.Active != nil {
		query += ` AND is_active = ` + arg(*filter.Active)
	}
	query += ` ORDER BY state, office, name`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ` + arg(filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list canonical")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := scanPgCanonical(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical")
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CandidatesByBlockingKey(ctx context.Context, key string) ([]model.CanonicalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCanonicalColumns+` FROM canonical_records WHERE blocking_key = $1`, key)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: candidates %s", key)
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := scanPgCanonical(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) StaleActive(ctx context.Context, cutoff time.Time) ([]model.CanonicalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCanonicalColumns+` FROM canonical_records WHERE is_active AND updated_at < $1`, cutoff.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stale active")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := scanPgCanonical(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale")
		}
		newest := time.Time{}
		for _, seen := range rec.LastSeenBySource {
			if seen.After(newest) {
				newest = seen
			}
		}
		if newest.Before(cutoff) {
			out = append(out, *rec)
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) ApplyMerge(ctx context.Context, mut *merge.Mutation) error {
	rec := mut.Record

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	lastSeen, err := json.Marshal(rec.LastSeenBySource)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal last_seen")
	}
	blockingKey := match.BlockingKey(match.NormalizeName(rec.Name), rec.Jurisdiction.State, string(rec.Level))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin merge")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if mut.Created {
		_, err = tx.Exec(ctx, `
			INSERT INTO canonical_records
			(canonical_id, name, office, level, state, district, is_active, fields,
			 data_quality_score, last_seen, blocking_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			rec.CanonicalID, rec.Name, rec.Office, string(rec.Level), rec.Jurisdiction.State,
			rec.Jurisdiction.District, rec.IsActive, fields, rec.DataQualityScore,
			lastSeen, blockingKey, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return &resilience.ConflictError{CanonicalID: rec.CanonicalID}
			}
			return eris.Wrapf(err, "postgres: insert canonical %s", rec.CanonicalID)
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE canonical_records SET
			name = $1, office = $2, level = $3, state = $4, district = $5, is_active = $6,
			fields = $7, data_quality_score = $8, last_seen = $9, blocking_key = $10, updated_at = $11
			WHERE canonical_id = $12 AND updated_at = $13`,
			rec.Name, rec.Office, string(rec.Level), rec.Jurisdiction.State,
			rec.Jurisdiction.District, rec.IsActive, fields, rec.DataQualityScore,
			lastSeen, blockingKey, rec.UpdatedAt.UTC(),
			rec.CanonicalID, mut.PrevUpdatedAt.UTC())
		if err != nil {
			return eris.Wrapf(err, "postgres: update canonical %s", rec.CanonicalID)
		}
		if tag.RowsAffected() == 0 {
			return &resilience.ConflictError{CanonicalID: rec.CanonicalID}
		}
	}

	for _, p := range mut.Provenance {
		_, err := tx.Exec(ctx, `
			INSERT INTO field_provenance
			(canonical_id, field_name, old_value, new_value, source_system, confidence, match_method, run_id, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.CanonicalID, p.FieldName, p.OldValue, p.NewValue, string(p.SourceSystem),
			p.Confidence, string(p.MatchMethod), p.RunID, p.ChangedAt.UTC())
		if err != nil {
			return eris.Wrapf(err, "postgres: insert provenance %s.%s", p.CanonicalID, p.FieldName)
		}
	}

	if cw := mut.Crosswalk; cw != nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO crosswalk (source_system, source_id, canonical_id, confidence, match_method, last_verified)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (source_system, source_id) DO UPDATE SET
			confidence = GREATEST(crosswalk.confidence, EXCLUDED.confidence),
			match_method = EXCLUDED.match_method,
			last_verified = EXCLUDED.last_verified
			WHERE crosswalk.canonical_id = EXCLUDED.canonical_id`,
			string(cw.SourceSystem), cw.SourceID, cw.CanonicalID, cw.Confidence,
			string(cw.MatchMethod), cw.LastVerified.UTC())
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert crosswalk %s/%s", cw.SourceSystem, cw.SourceID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit merge")
}

func (s *PostgresStore) GetProvenance(ctx context.Context, id int64) (*model.FieldProvenance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, canonical_id, field_name, old_value, new_value, source_system, confidence, match_method, run_id, changed_at
		FROM field_provenance WHERE id = $1`, id)
	p, err := scanPgProvenance(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get provenance %d", id)
	}
	return p, nil
}

func (s *PostgresStore) ListProvenance(ctx context.Context, canonicalID string) ([]model.FieldProvenance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, canonical_id, field_name, old_value, new_value, source_system, confidence, match_method, run_id, changed_at
		FROM field_provenance WHERE canonical_id = $1 ORDER BY id`, canonicalID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list provenance %s", canonicalID)
	}
	defer rows.Close()

	var out []model.FieldProvenance
	for rows.Next() {
		p, err := scanPgProvenance(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan provenance")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPgProvenance(scan func(...any) error) (*model.FieldProvenance, error) {
	var p model.FieldProvenance
	var system, method string
	if err := scan(&p.ID, &p.CanonicalID, &p.FieldName, &p.OldValue, &p.NewValue,
		&system, &p.Confidence, &method, &p.RunID, &p.ChangedAt); err != nil {
		return nil, err
	}
	p.SourceSystem = model.SourceSystem(system)
	p.MatchMethod = model.MatchMethod(method)
	return &p, nil
}

func (s *PostgresStore) EnqueueReview(ctx context.Context, item model.ReviewItem) error {
	record, err := json.Marshal(item.Record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal review record")
	}
	candidates, err := json.Marshal(item.Candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal review candidates")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO review_queue (id, record, candidates, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, record, candidates, item.Reason, string(item.Status), item.CreatedAt.UTC())
	return eris.Wrapf(err, "postgres: enqueue review %s", item.ID)
}

func (s *PostgresStore) GetReview(ctx context.Context, id string) (*model.ReviewItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, record, candidates, reason, status, resolved_canonical_id, created_at, resolved_at
		FROM review_queue WHERE id = $1`, id)
	item, err := scanPgReview(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get review %s", id)
	}
	return item, nil
}

func scanPgReview(scan func(...any) error) (*model.ReviewItem, error) {
	var item model.ReviewItem
	var record, candidates []byte
	var st string
	if err := scan(&item.ID, &record, &candidates, &item.Reason, &st,
		&item.ResolvedCanonicalID, &item.CreatedAt, &item.ResolvedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(record, &item.Record); err != nil {
		return nil, eris.Wrap(err, "postgres: decode review record")
	}
	if err := json.Unmarshal(candidates, &item.Candidates); err != nil {
		return nil, eris.Wrap(err, "postgres: decode review candidates")
	}
	item.Status = model.ReviewStatus(st)
	return &item, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, record, candidates, reason, status, resolved_canonical_id, created_at, resolved_at
		FROM review_queue WHERE status = $1 ORDER BY created_at LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviews")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanPgReview(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveReview(ctx context.Context, id, canonicalID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_queue SET status = $1, resolved_canonical_id = $2, resolved_at = $3
		WHERE id = $4 AND status = $5`,
		string(model.ReviewResolved), canonicalID, time.Now().UTC(), id, string(model.ReviewPending))
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve review %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: review %s not found or already resolved", id)
	}
	return nil
}

func (s *PostgresStore) PendingReviewCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE status = $1`, string(model.ReviewPending),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: pending review count")
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.IngestRun) error {
	states, err := json.Marshal(run.SourceStates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run states")
	}
	var finished *time.Time
	if run.FinishedAt != nil {
		t := run.FinishedAt.UTC()
		finished = &t
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, status, source_states, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
		status = EXCLUDED.status, source_states = EXCLUDED.source_states, finished_at = EXCLUDED.finished_at`,
		run.RunID, string(run.Status), states, run.StartedAt.UTC(), finished)
	return eris.Wrapf(err, "postgres: save run %s", run.RunID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var run model.IngestRun
	var status string
	var states []byte
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, status, source_states, started_at, finished_at FROM runs WHERE run_id = $1`, runID,
	).Scan(&run.RunID, &status, &states, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	run.Status = model.RunStatus(status)
	if err := json.Unmarshal(states, &run.SourceStates); err != nil {
		return nil, eris.Wrap(err, "postgres: decode run states")
	}
	return &run, nil
}

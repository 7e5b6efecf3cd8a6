package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/civicgraph/repsync/internal/match"
	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/model"
	"github.com/civicgraph/repsync/internal/resilience"
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
CREATE TABLE IF NOT EXISTS cursors (
	source_system   TEXT PRIMARY KEY,
	cursor          TEXT NOT NULL,
	last_success_at TEXT
);

CREATE TABLE IF NOT EXISTS source_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	source_system TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	raw_fields    TEXT NOT NULL,
	fetched_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crosswalk (
	source_system TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	canonical_id  TEXT NOT NULL,
	confidence    REAL NOT NULL,
	match_method  TEXT NOT NULL,
	last_verified TEXT NOT NULL,
	PRIMARY KEY (source_system, source_id)
);

CREATE TABLE IF NOT EXISTS canonical_records (
	canonical_id       TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	office             TEXT NOT NULL DEFAULT '',
	level              TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	district           TEXT NOT NULL DEFAULT '',
	is_active          INTEGER NOT NULL DEFAULT 1,
	fields             TEXT NOT NULL,
	data_quality_score REAL NOT NULL DEFAULT 0,
	last_seen          TEXT NOT NULL DEFAULT '{}',
	blocking_key       TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS field_provenance (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	canonical_id  TEXT NOT NULL,
	field_name    TEXT NOT NULL,
	old_value     TEXT NOT NULL DEFAULT '',
	new_value     TEXT NOT NULL,
	source_system TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0,
	match_method  TEXT NOT NULL DEFAULT '',
	run_id        TEXT NOT NULL DEFAULT '',
	changed_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id                    TEXT PRIMARY KEY,
	record                TEXT NOT NULL,
	candidates            TEXT NOT NULL,
	reason                TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'pending',
	resolved_canonical_id TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL,
	resolved_at           TEXT
);

CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	source_states TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_source_records_key ON source_records(source_system, source_id, fetched_at DESC);
CREATE INDEX IF NOT EXISTS idx_crosswalk_canonical ON crosswalk(canonical_id);
CREATE INDEX IF NOT EXISTS idx_canonical_blocking ON canonical_records(blocking_key);
CREATE INDEX IF NOT EXISTS idx_canonical_query ON canonical_records(state, office, is_active);
CREATE INDEX IF NOT EXISTS idx_provenance_canonical ON field_provenance(canonical_id, id);
CREATE INDEX IF NOT EXISTS idx_review_status ON review_queue(status, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ts renders a time for storage; sortable and comparable as text.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLiteStore) GetCursor(ctx context.Context, system model.SourceSystem) (model.Cursor, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM cursors WHERE source_system = ?`, string(system),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.Cursor{}, nil
	}
	if err != nil {
		return model.Cursor{}, eris.Wrapf(err, "sqlite: get cursor %s", system)
	}

	var c model.Cursor
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return model.Cursor{}, eris.Wrapf(err, "sqlite: decode cursor %s", system)
	}
	return c, nil
}

func (s *SQLiteStore) PutCursor(ctx context.Context, system model.SourceSystem, cursor model.Cursor, successAt time.Time) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cursor")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cursors (source_system, cursor, last_success_at) VALUES (?, ?, ?)
		ON CONFLICT(source_system) DO UPDATE SET cursor = excluded.cursor, last_success_at = excluded.last_success_at`,
		string(system), string(raw), ts(successAt),
	)
	return eris.Wrapf(err, "sqlite: put cursor %s", system)
}

func (s *SQLiteStore) SourceStatuses(ctx context.Context) ([]model.SourceStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_system, cursor, last_success_at FROM cursors ORDER BY source_system`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: source statuses")
	}
	defer rows.Close()

	var out []model.SourceStatus
	for rows.Next() {
		var system, raw string
		var successAt sql.NullString
		if err := rows.Scan(&system, &raw, &successAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source status")
		}
		st := model.SourceStatus{SourceSystem: model.SourceSystem(system)}
		if err := json.Unmarshal([]byte(raw), &st.Cursor); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode cursor %s", system)
		}
		if successAt.Valid {
			t := parseTS(successAt.String)
			st.LastSuccessAt = &t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendSourceRecords(ctx context.Context, records []model.SourceRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO source_records (source_system, source_id, raw_fields, fetched_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare append")
	}
	defer stmt.Close()

	for _, rec := range records {
		raw, err := json.Marshal(rec.RawFields)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal raw fields")
		}
		if _, err := stmt.ExecContext(ctx, string(rec.SourceSystem), rec.SourceID, string(raw), ts(rec.FetchedAt)); err != nil {
			return eris.Wrapf(err, "sqlite: insert source record %s/%s", rec.SourceSystem, rec.SourceID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append")
}

func (s *SQLiteStore) LatestSourceRecords(ctx context.Context, canonicalID string) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sr.source_system, sr.source_id, sr.raw_fields, sr.fetched_at
		FROM crosswalk cw
		JOIN source_records sr
		  ON sr.source_system = cw.source_system AND sr.source_id = cw.source_id
		WHERE cw.canonical_id = ?
		  AND sr.fetched_at = (
			SELECT MAX(s2.fetched_at) FROM source_records s2
			WHERE s2.source_system = sr.source_system AND s2.source_id = sr.source_id
		  )`, canonicalID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest source records %s", canonicalID)
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		var system, sourceID, raw, fetchedAt string
		if err := rows.Scan(&system, &sourceID, &raw, &fetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source record")
		}
		rec := model.SourceRecord{
			SourceSystem: model.SourceSystem(system),
			SourceID:     sourceID,
			FetchedAt:    parseTS(fetchedAt),
		}
		if err := json.Unmarshal([]byte(raw), &rec.RawFields); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode raw fields")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LookupCanonical(ctx context.Context, system model.SourceSystem, sourceID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT canonical_id FROM crosswalk WHERE source_system = ? AND source_id = ?`,
		string(system), sourceID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: lookup %s/%s", system, sourceID)
	}
	return id, true, nil
}

func (s *SQLiteStore) CrosswalkEntries(ctx context.Context, canonicalID string) ([]model.CrosswalkEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_system, source_id, canonical_id, confidence, match_method, last_verified
		FROM crosswalk WHERE canonical_id = ? ORDER BY source_system, source_id`, canonicalID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: crosswalk entries %s", canonicalID)
	}
	defer rows.Close()

	var out []model.CrosswalkEntry
	for rows.Next() {
		var e model.CrosswalkEntry
		var system, method, verified string
		if err := rows.Scan(&system, &e.SourceID, &e.CanonicalID, &e.Confidence, &method, &verified); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crosswalk entry")
		}
		e.SourceSystem = model.SourceSystem(system)
		e.MatchMethod = model.MatchMethod(method)
		e.LastVerified = parseTS(verified)
		out = append(out, e)
	}
	return out, rows.Err()
}

const canonicalColumns = `canonical_id, name, office, level, state, district, is_active,
	fields, data_quality_score, last_seen, created_at, updated_at`

func (s *SQLiteStore) scanCanonical(scan func(...any) error) (*model.CanonicalRecord, error) {
	var rec model.CanonicalRecord
	var level, fields, lastSeen, createdAt, updatedAt string
	var active int
	err := scan(&rec.CanonicalID, &rec.Name, &rec.Office, &level, &rec.Jurisdiction.State,
		&rec.Jurisdiction.District, &active, &fields, &rec.DataQualityScore, &lastSeen,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Level = model.Level(level)
	rec.IsActive = active != 0
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode fields")
	}
	if err := json.Unmarshal([]byte(lastSeen), &rec.LastSeenBySource); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode last_seen")
	}
	rec.CreatedAt = parseTS(createdAt)
	rec.UpdatedAt = parseTS(updatedAt)
	return &rec, nil
}

func (s *SQLiteStore) GetCanonical(ctx context.Context, canonicalID string) (*model.CanonicalRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_records WHERE canonical_id = ?`, canonicalID)
	rec, err := s.scanCanonical(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get canonical %s", canonicalID)
	}
	return rec, nil
}

func (s *SQLiteStore) ListCanonical(ctx context.Context, filter CanonicalFilter) ([]model.CanonicalRecord, error) {
	query := `SELECT ` + canonicalColumns + ` FROM canonical_records WHERE 1=1`
	var args []any
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	if filter.Office != "" {
		query += ` AND office = ?`
		args = append(args, filter.Office)
	}
	if filter.Active != nil {
		query += ` AND is_active = ?`
		if *filter.Active {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	query += ` ORDER BY state, office, name`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list canonical")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := s.scanCanonical(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical")
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CandidatesByBlockingKey(ctx context.Context, key string) ([]model.CanonicalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_records WHERE blocking_key = ?`, key)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: candidates %s", key)
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := s.scanCanonical(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) StaleActive(ctx context.Context, cutoff time.Time) ([]model.CanonicalRecord, error) {
	// last_seen is a JSON object of source -> timestamp; records whose newest
	// report predates the cutoff are stale. The set is small enough to filter
	// after a cheap updated_at pre-filter.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_records WHERE is_active = 1 AND updated_at < ?`, ts(cutoff))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stale active")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := s.scanCanonical(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stale")
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

func (s *SQLiteStore) ApplyMerge(ctx context.Context, mut *merge.Mutation) error {
	rec := mut.Record

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	lastSeen, err := json.Marshal(rec.LastSeenBySource)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal last_seen")
	}
	blockingKey := match.BlockingKey(match.NormalizeName(rec.Name), rec.Jurisdiction.State, string(rec.Level))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin merge")
	}
	defer tx.Rollback()

	active := 0
	if rec.IsActive {
		active = 1
	}

	if mut.Created {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO canonical_records
			(canonical_id, name, office, level, state, district, is_active, fields,
			 data_quality_score, last_seen, blocking_key, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.CanonicalID, rec.Name, rec.Office, string(rec.Level), rec.Jurisdiction.State,
			rec.Jurisdiction.District, active, string(fields), rec.DataQualityScore,
			string(lastSeen), blockingKey, ts(rec.CreatedAt), ts(rec.UpdatedAt))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return &resilience.ConflictError{CanonicalID: rec.CanonicalID}
			}
			return eris.Wrapf(err, "sqlite: insert canonical %s", rec.CanonicalID)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE canonical_records SET
			name = ?, office = ?, level = ?, state = ?, district = ?, is_active = ?,
			fields = ?, data_quality_score = ?, last_seen = ?, blocking_key = ?, updated_at = ?
			WHERE canonical_id = ? AND updated_at = ?`,
			rec.Name, rec.Office, string(rec.Level), rec.Jurisdiction.State,
			rec.Jurisdiction.District, active, string(fields), rec.DataQualityScore,
			string(lastSeen), blockingKey, ts(rec.UpdatedAt),
			rec.CanonicalID, ts(mut.PrevUpdatedAt))
		if err != nil {
			return eris.Wrapf(err, "sqlite: update canonical %s", rec.CanonicalID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			return &resilience.ConflictError{CanonicalID: rec.CanonicalID}
		}
	}

	for _, p := range mut.Provenance {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO field_provenance
			(canonical_id, field_name, old_value, new_value, source_system, confidence, match_method, run_id, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.CanonicalID, p.FieldName, p.OldValue, p.NewValue, string(p.SourceSystem),
			p.Confidence, string(p.MatchMethod), p.RunID, ts(p.ChangedAt))
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert provenance %s.%s", p.CanonicalID, p.FieldName)
		}
	}

	if cw := mut.Crosswalk; cw != nil {
		// Confidence only ever improves; the mapping never flips silently.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO crosswalk (source_system, source_id, canonical_id, confidence, match_method, last_verified)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_system, source_id) DO UPDATE SET
			confidence = MAX(crosswalk.confidence, excluded.confidence),
			match_method = excluded.match_method,
			last_verified = excluded.last_verified
			WHERE crosswalk.canonical_id = excluded.canonical_id`,
			string(cw.SourceSystem), cw.SourceID, cw.CanonicalID, cw.Confidence,
			string(cw.MatchMethod), ts(cw.LastVerified))
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert crosswalk %s/%s", cw.SourceSystem, cw.SourceID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit merge")
}

func (s *SQLiteStore) GetProvenance(ctx context.Context, id int64) (*model.FieldProvenance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, canonical_id, field_name, old_value, new_value, source_system, confidence, match_method, run_id, changed_at
		FROM field_provenance WHERE id = ?`, id)
	p, err := scanProvenance(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get provenance %d", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListProvenance(ctx context.Context, canonicalID string) ([]model.FieldProvenance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_id, field_name, old_value, new_value, source_system, confidence, match_method, run_id, changed_at
		FROM field_provenance WHERE canonical_id = ? ORDER BY id`, canonicalID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list provenance %s", canonicalID)
	}
	defer rows.Close()

	var out []model.FieldProvenance
	for rows.Next() {
		p, err := scanProvenance(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provenance")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProvenance(scan func(...any) error) (*model.FieldProvenance, error) {
	var p model.FieldProvenance
	var system, method, changedAt string
	if err := scan(&p.ID, &p.CanonicalID, &p.FieldName, &p.OldValue, &p.NewValue,
		&system, &p.Confidence, &method, &p.RunID, &changedAt); err != nil {
		return nil, err
	}
	p.SourceSystem = model.SourceSystem(system)
	p.MatchMethod = model.MatchMethod(method)
	p.ChangedAt = parseTS(changedAt)
	return &p, nil
}

func (s *SQLiteStore) EnqueueReview(ctx context.Context, item model.ReviewItem) error {
	record, err := json.Marshal(item.Record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal review record")
	}
	candidates, err := json.Marshal(item.Candidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal review candidates")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_queue (id, record, candidates, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, string(record), string(candidates), item.Reason, string(item.Status), ts(item.CreatedAt))
	return eris.Wrapf(err, "sqlite: enqueue review %s", item.ID)
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*model.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, record, candidates, reason, status, resolved_canonical_id, created_at, resolved_at
		FROM review_queue WHERE id = ?`, id)
	item, err := scanReviewRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get review %s", id)
	}
	return item, nil
}

func scanReviewRow(scan func(...any) error) (*model.ReviewItem, error) {
	var item model.ReviewItem
	var record, candidates, st, createdAt string
	var resolvedAt sql.NullString
	if err := scan(&item.ID, &record, &candidates, &item.Reason, &st,
		&item.ResolvedCanonicalID, &createdAt, &resolvedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(record), &item.Record); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode review record")
	}
	if err := json.Unmarshal([]byte(candidates), &item.Candidates); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode review candidates")
	}
	item.Status = model.ReviewStatus(st)
	item.CreatedAt = parseTS(createdAt)
	if resolvedAt.Valid {
		t := parseTS(resolvedAt.String)
		item.ResolvedAt = &t
	}
	return &item, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record, candidates, reason, status, resolved_canonical_id, created_at, resolved_at
		FROM review_queue WHERE status = ? ORDER BY created_at LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reviews")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanReviewRow(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResolveReview(ctx context.Context, id, canonicalID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_queue SET status = ?, resolved_canonical_id = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(model.ReviewResolved), canonicalID, ts(time.Now()), id, string(model.ReviewPending))
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve review %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: review %s not found or already resolved", id)
	}
	return nil
}

func (s *SQLiteStore) PendingReviewCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE status = ?`, string(model.ReviewPending),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: pending review count")
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.IngestRun) error {
	states, err := json.Marshal(run.SourceStates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run states")
	}
	var finished any
	if run.FinishedAt != nil {
		finished = ts(*run.FinishedAt)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, source_states, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
		status = excluded.status, source_states = excluded.source_states, finished_at = excluded.finished_at`,
		run.RunID, string(run.Status), string(states), ts(run.StartedAt), finished)
	return eris.Wrapf(err, "sqlite: save run %s", run.RunID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var run model.IngestRun
	var status, states, startedAt string
	var finishedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, source_states, started_at, finished_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &status, &states, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	run.Status = model.RunStatus(status)
	if err := json.Unmarshal([]byte(states), &run.SourceStates); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode run states")
	}
	run.StartedAt = parseTS(startedAt)
	if finishedAt.Valid {
		t := parseTS(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

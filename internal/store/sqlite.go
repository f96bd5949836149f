package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/paragraf/paragraf/internal/errors"
)

// mapSQLiteErr classifies driver failures on write paths. A constraint
// violation poisons only the offending row, lock contention is worth
// retrying, anything else is internal.
func mapSQLiteErr(msg string, err error) *errors.Error {
	var se *sqlite.Error
	if stderrors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return errors.PermanentItem(msg).WithDetail("cause", err.Error())
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.Transient(msg).WithDetail("cause", err.Error())
		}
	}
	return errors.Internal(msg).WithDetail("cause", err.Error())
}

// SQLiteStore is the embedded fallback backend: SQLite with FTS5 for text
// ranking, Go trigram similarity for fuzzy title matching, and an
// in-memory HNSW index over persisted embeddings for vector search.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed bool

	vecOnce sync.Once
	vecErr  error
	vec     *vectorIndex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. An empty path
// opens an in-memory database for testing.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Internal("failed to create database directory").WithDetail("path", path).WithDetail("cause", err.Error())
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Internal("failed to open sqlite database").WithDetail("cause", err.Error())
	}

	// Single writer prevents SQLITE_BUSY under concurrent section upserts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Pragmas must be set via statements: modernc.org/sqlite ignores DSN params.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Internal("failed to set pragma").WithDetail("pragma", pragma).WithDetail("cause", err.Error())
		}
	}

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		dok_id        TEXT PRIMARY KEY,
		ref_id        TEXT NOT NULL DEFAULT '',
		title         TEXT NOT NULL DEFAULT '',
		short_title   TEXT NOT NULL DEFAULT '',
		category      TEXT NOT NULL,
		ministry      TEXT NOT NULL DEFAULT '',
		date_in_force TEXT NOT NULL DEFAULT '',
		is_amendment  INTEGER NOT NULL DEFAULT 0,
		is_current    INTEGER NOT NULL DEFAULT 1,
		legal_area    TEXT NOT NULL DEFAULT '',
		based_on      TEXT NOT NULL DEFAULT '',
		indexed_at    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_documents_ref_id ON documents(ref_id);
	CREATE INDEX IF NOT EXISTS idx_documents_short_title ON documents(short_title);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category, is_current);

	CREATE TABLE IF NOT EXISTS sections (
		dok_id        TEXT NOT NULL,
		section_id    TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		content       TEXT NOT NULL,
		address       TEXT NOT NULL DEFAULT '',
		char_count    INTEGER NOT NULL DEFAULT 0,
		fingerprint   TEXT NOT NULL DEFAULT '',
		structure_key TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (dok_id, section_id)
	);

	CREATE TABLE IF NOT EXISTS structure_nodes (
		dok_id  TEXT NOT NULL,
		idx     INTEGER NOT NULL,
		kind    TEXT NOT NULL,
		label   TEXT NOT NULL DEFAULT '',
		title   TEXT NOT NULL DEFAULT '',
		ordinal INTEGER NOT NULL DEFAULT 0,
		parent  INTEGER NOT NULL DEFAULT -1,
		address TEXT NOT NULL DEFAULT '',
		depth   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (dok_id, idx)
	);

	CREATE TABLE IF NOT EXISTS section_embeddings (
		dok_id     TEXT NOT NULL,
		section_id TEXT NOT NULL,
		model      TEXT NOT NULL DEFAULT '',
		vector     BLOB NOT NULL,
		PRIMARY KEY (dok_id, section_id)
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		dataset       TEXT PRIMARY KEY,
		last_modified TEXT NOT NULL DEFAULT '',
		synced_at     TEXT NOT NULL DEFAULT '',
		file_count    INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL DEFAULT 'idle',
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS sections_fts USING fts5(
		dok_id UNINDEXED,
		section_id UNINDEXED,
		title,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Internal("failed to initialize schema").WithDetail("cause", err.Error())
	}
	return nil
}

// --- Documents ---

const docColumns = `dok_id, ref_id, title, short_title, category, ministry,
	date_in_force, is_amendment, is_current, legal_area, based_on, indexed_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var amendment, current int
	var indexedAt string
	err := row.Scan(&d.DokID, &d.RefID, &d.Title, &d.ShortTitle, &d.Category,
		&d.Ministry, &d.DateInForce, &amendment, &current, &d.LegalArea,
		&d.BasedOn, &indexedAt)
	if err != nil {
		return nil, err
	}
	d.IsAmendment = amendment != 0
	d.IsCurrent = current != 0
	if indexedAt != "" {
		d.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	}
	return &d, nil
}

func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *Document) error {
	if doc.DokID == "" {
		return errors.Validation("document missing dok_id")
	}
	indexedAt := doc.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+docColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dok_id) DO UPDATE SET
			ref_id = excluded.ref_id,
			title = excluded.title,
			short_title = excluded.short_title,
			category = excluded.category,
			ministry = excluded.ministry,
			date_in_force = excluded.date_in_force,
			is_amendment = excluded.is_amendment,
			is_current = excluded.is_current,
			legal_area = excluded.legal_area,
			based_on = excluded.based_on,
			indexed_at = excluded.indexed_at`,
		doc.DokID, doc.RefID, doc.Title, doc.ShortTitle, doc.Category,
		doc.Ministry, doc.DateInForce, boolInt(doc.IsAmendment),
		boolInt(doc.IsCurrent), doc.LegalArea, doc.BasedOn,
		indexedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return mapSQLiteErr("failed to upsert document", err).WithDetail("dok_id", doc.DokID)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, dokID string) (*Document, error) {
	id := NormalizeID(dokID)
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE dok_id = ?`, id))
	if err == nil {
		return doc, nil
	}
	if err != sql.ErrNoRows {
		return nil, errors.Internal("failed to get document").WithDetail("cause", err.Error())
	}
	doc, err = scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE ref_id = ? LIMIT 1`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("document not found").WithDetail("dok_id", dokID)
	}
	if err != nil {
		return nil, errors.Internal("failed to get document").WithDetail("cause", err.Error())
	}
	return doc, nil
}

func (s *SQLiteStore) FindByShortTitle(ctx context.Context, shortTitle string) (*Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM documents
		 WHERE short_title = ? COLLATE NOCASE AND is_current = 1
		 ORDER BY is_amendment ASC, dok_id ASC LIMIT 1`, shortTitle))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("no document with short title").WithDetail("short_title", shortTitle)
	}
	if err != nil {
		return nil, errors.Internal("failed to find by short title").WithDetail("cause", err.Error())
	}
	return doc, nil
}

func (s *SQLiteStore) FuzzyShortTitle(ctx context.Context, input string, threshold float64, limit int) ([]*FuzzyMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dok_id, short_title FROM documents
		WHERE short_title != '' AND is_current = 1 AND is_amendment = 0`)
	if err != nil {
		return nil, errors.Internal("failed to scan short titles").WithDetail("cause", err.Error())
	}
	defer rows.Close()

	var matches []*FuzzyMatch
	for rows.Next() {
		var m FuzzyMatch
		if err := rows.Scan(&m.DokID, &m.ShortTitle); err != nil {
			return nil, errors.Internal("failed to scan fuzzy match").WithDetail("cause", err.Error())
		}
		if sim := TrigramSimilarity(input, m.ShortTitle); sim >= threshold {
			m.Similarity = sim
			matches = append(matches, &m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("fuzzy scan failed").WithDetail("cause", err.Error())
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if len(matches[i].ShortTitle) != len(matches[j].ShortTitle) {
			return len(matches[i].ShortTitle) < len(matches[j].ShortTitle)
		}
		return matches[i].ShortTitle < matches[j].ShortTitle
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *SQLiteStore) DocumentsByCategory(ctx context.Context, cat Category) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE category = ? ORDER BY dok_id`, cat)
	if err != nil {
		return nil, errors.Internal("failed to list documents").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Internal("failed to scan document").WithDetail("cause", err.Error())
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) SetLegalArea(ctx context.Context, dokID, legalArea string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET legal_area = ? WHERE dok_id = ?`, legalArea, NormalizeID(dokID))
	if err != nil {
		return errors.Internal("failed to set legal area").WithDetail("cause", err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("document not found").WithDetail("dok_id", dokID)
	}
	return nil
}

func (s *SQLiteStore) MarkNonCurrent(ctx context.Context, cat Category, seenIDs []string) (int, error) {
	seen := make(map[string]struct{}, len(seenIDs))
	for _, id := range seenIDs {
		seen[NormalizeID(id)] = struct{}{}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT dok_id, is_current FROM documents WHERE category = ?`, cat)
	if err != nil {
		return 0, errors.Internal("failed to scan documents").WithDetail("cause", err.Error())
	}
	var toMark, toRestore []string
	for rows.Next() {
		var id string
		var current int
		if err := rows.Scan(&id, &current); err != nil {
			rows.Close()
			return 0, errors.Internal("failed to scan document row").WithDetail("cause", err.Error())
		}
		_, present := seen[id]
		switch {
		case !present && current != 0:
			toMark = append(toMark, id)
		case present && current == 0:
			toRestore = append(toRestore, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Internal("document scan failed").WithDetail("cause", err.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Internal("failed to begin transaction").WithDetail("cause", err.Error())
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range toMark {
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET is_current = 0 WHERE dok_id = ?`, id); err != nil {
			return 0, errors.Internal("failed to mark non-current").WithDetail("cause", err.Error())
		}
	}
	for _, id := range toRestore {
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET is_current = 1 WHERE dok_id = ?`, id); err != nil {
			return 0, errors.Internal("failed to restore document").WithDetail("cause", err.Error())
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Internal("failed to commit currency update").WithDetail("cause", err.Error())
	}
	if len(toMark) > 0 || len(toRestore) > 0 {
		s.logger.Info("document currency updated",
			slog.String("category", string(cat)),
			slog.Int("marked_non_current", len(toMark)),
			slog.Int("restored", len(toRestore)))
	}
	return len(toMark), nil
}

func (s *SQLiteStore) RelatedRegulations(ctx context.Context, lawID string) ([]*Document, error) {
	id := NormalizeID(lawID)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+docColumns+` FROM documents
		WHERE category = ? AND is_current = 1
		  AND (based_on = ? OR based_on LIKE ? OR based_on LIKE ? OR based_on LIKE ?)
		ORDER BY dok_id`,
		CategoryRegulation, id, id+";%", "%; "+id, "%; "+id+";%")
	if err != nil {
		return nil, errors.Internal("failed to query related regulations").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Internal("failed to scan regulation").WithDetail("cause", err.Error())
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) ListMinistries(ctx context.Context) ([]string, error) {
	return s.distinctColumn(ctx, "ministry")
}

func (s *SQLiteStore) ListLegalAreas(ctx context.Context) ([]string, error) {
	return s.distinctColumn(ctx, "legal_area")
}

func (s *SQLiteStore) distinctColumn(ctx context.Context, col string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT %s FROM documents WHERE %s != '' AND is_current = 1 ORDER BY %s`,
		col, col, col))
	if err != nil {
		return nil, errors.Internal("failed to list values").WithDetail("column", col).WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Internal("failed to scan value").WithDetail("cause", err.Error())
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Sections ---

func (s *SQLiteStore) UpsertSection(ctx context.Context, sec *Section) error {
	if sec.DokID == "" || sec.SectionID == "" {
		return errors.Validation("section missing identity").
			WithDetail("dok_id", sec.DokID).WithDetail("section_id", sec.SectionID)
	}
	if sec.Content == "" {
		return errors.Validation("section has empty content").
			WithDetail("dok_id", sec.DokID).WithDetail("section_id", sec.SectionID)
	}
	if sec.Fingerprint == "" {
		sec.Fingerprint = Fingerprint(sec.Content)
	}
	if sec.CharCount == 0 {
		sec.CharCount = len([]rune(sec.Content))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Internal("failed to begin transaction").WithDetail("cause", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sections (dok_id, section_id, title, content, address, char_count, fingerprint, structure_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dok_id, section_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			address = excluded.address,
			char_count = excluded.char_count,
			fingerprint = excluded.fingerprint,
			structure_key = excluded.structure_key`,
		sec.DokID, sec.SectionID, sec.Title, sec.Content, sec.Address,
		sec.CharCount, sec.Fingerprint, sec.StructureKey); err != nil {
		return mapSQLiteErr("failed to upsert section", err)
	}

	// FTS5 virtual tables don't support upsert: delete then insert.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sections_fts WHERE dok_id = ? AND section_id = ?`,
		sec.DokID, sec.SectionID); err != nil {
		return errors.Internal("failed to clear fts entry").WithDetail("cause", err.Error())
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sections_fts (dok_id, section_id, title, content) VALUES (?, ?, ?, ?)`,
		sec.DokID, sec.SectionID, sec.Title, sec.Content); err != nil {
		return mapSQLiteErr("failed to insert fts entry", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSection(ctx context.Context, dokID, sectionID string) (*Section, error) {
	var sec Section
	err := s.db.QueryRowContext(ctx, `
		SELECT dok_id, section_id, title, content, address, char_count, fingerprint, structure_key
		FROM sections WHERE dok_id = ? AND section_id = ?`,
		NormalizeID(dokID), sectionID).Scan(
		&sec.DokID, &sec.SectionID, &sec.Title, &sec.Content, &sec.Address,
		&sec.CharCount, &sec.Fingerprint, &sec.StructureKey)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("section not found").
			WithDetail("dok_id", dokID).WithDetail("section_id", sectionID)
	}
	if err != nil {
		return nil, errors.Internal("failed to get section").WithDetail("cause", err.Error())
	}
	return &sec, nil
}

func (s *SQLiteStore) GetSections(ctx context.Context, dokID string, sectionIDs []string) ([]*Section, error) {
	if len(sectionIDs) == 0 {
		return nil, nil
	}
	id := NormalizeID(dokID)
	placeholders := strings.Repeat("?,", len(sectionIDs))
	args := make([]any, 0, len(sectionIDs)+1)
	args = append(args, id)
	for _, sid := range sectionIDs {
		args = append(args, sid)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT dok_id, section_id, title, content, address, char_count, fingerprint, structure_key
		FROM sections WHERE dok_id = ? AND section_id IN (`+placeholders[:len(placeholders)-1]+`)`,
		args...)
	if err != nil {
		return nil, errors.Internal("failed to get sections").WithDetail("cause", err.Error())
	}
	defer rows.Close()

	byID := make(map[string]*Section)
	for rows.Next() {
		var sec Section
		if err := rows.Scan(&sec.DokID, &sec.SectionID, &sec.Title, &sec.Content,
			&sec.Address, &sec.CharCount, &sec.Fingerprint, &sec.StructureKey); err != nil {
			return nil, errors.Internal("failed to scan section").WithDetail("cause", err.Error())
		}
		byID[sec.SectionID] = &sec
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("section scan failed").WithDetail("cause", err.Error())
	}
	// Preserve request order; missing IDs are simply absent.
	out := make([]*Section, 0, len(byID))
	for _, sid := range sectionIDs {
		if sec, ok := byID[sid]; ok {
			out = append(out, sec)
		}
	}
	return out, nil
}

func (s *SQLiteStore) ListSections(ctx context.Context, dokID string) ([]*SectionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT section_id, title, char_count, address, structure_key
		FROM sections WHERE dok_id = ?`, NormalizeID(dokID))
	if err != nil {
		return nil, errors.Internal("failed to list sections").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var infos []*SectionInfo
	for rows.Next() {
		var info SectionInfo
		if err := rows.Scan(&info.SectionID, &info.Title, &info.CharCount,
			&info.Address, &info.StructureKey); err != nil {
			return nil, errors.Internal("failed to scan section info").WithDetail("cause", err.Error())
		}
		info.EstimatedTokens = int(float64(info.CharCount) / CharsPerToken)
		infos = append(infos, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("section info scan failed").WithDetail("cause", err.Error())
	}
	sortSectionInfos(infos)
	return infos, nil
}

func (s *SQLiteStore) SectionFingerprints(ctx context.Context, dokID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT section_id, fingerprint FROM sections WHERE dok_id = ?`, NormalizeID(dokID))
	if err != nil {
		return nil, errors.Internal("failed to read fingerprints").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	fps := make(map[string]string)
	for rows.Next() {
		var sid, fp string
		if err := rows.Scan(&sid, &fp); err != nil {
			return nil, errors.Internal("failed to scan fingerprint").WithDetail("cause", err.Error())
		}
		fps[sid] = fp
	}
	return fps, rows.Err()
}

// --- Structure ---

func (s *SQLiteStore) ReplaceStructure(ctx context.Context, dokID string, nodes []*StructureNode) error {
	id := NormalizeID(dokID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Internal("failed to begin transaction").WithDetail("cause", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM structure_nodes WHERE dok_id = ?`, id); err != nil {
		return errors.Internal("failed to clear structure").WithDetail("cause", err.Error())
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO structure_nodes (dok_id, idx, kind, label, title, ordinal, parent, address, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Internal("failed to prepare structure insert").WithDetail("cause", err.Error())
	}
	defer stmt.Close()
	for i, n := range nodes {
		if n.Parent >= i {
			return errors.Invariant("structure node parent must precede child").
				WithDetail("dok_id", id).WithDetail("index", fmt.Sprint(i))
		}
		if _, err := stmt.ExecContext(ctx, id, i, n.Kind, n.Label, n.Title,
			n.Ordinal, n.Parent, n.Address, n.Depth); err != nil {
			return mapSQLiteErr("failed to insert structure node", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListStructure(ctx context.Context, dokID string) ([]*StructureNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, label, title, ordinal, parent, address, depth
		FROM structure_nodes WHERE dok_id = ? ORDER BY idx`, NormalizeID(dokID))
	if err != nil {
		return nil, errors.Internal("failed to list structure").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var nodes []*StructureNode
	for rows.Next() {
		n := &StructureNode{DokID: NormalizeID(dokID)}
		if err := rows.Scan(&n.Kind, &n.Label, &n.Title, &n.Ordinal,
			&n.Parent, &n.Address, &n.Depth); err != nil {
			return nil, errors.Internal("failed to scan structure node").WithDetail("cause", err.Error())
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// --- Search ---

func filterClauses(filters Filters, args *[]any) string {
	var sb strings.Builder
	if filters.Category != "" {
		sb.WriteString(" AND d.category = ?")
		*args = append(*args, filters.Category)
	}
	if filters.Ministry != "" {
		sb.WriteString(" AND d.ministry LIKE ?")
		*args = append(*args, "%"+filters.Ministry+"%")
	}
	if filters.LegalArea != "" {
		sb.WriteString(" AND d.legal_area LIKE ?")
		*args = append(*args, "%"+filters.LegalArea+"%")
	}
	if !filters.IncludeAmendments {
		sb.WriteString(" AND d.is_amendment = 0")
	}
	sb.WriteString(" AND d.is_current = 1")
	return sb.String()
}

func (s *SQLiteStore) FullTextQuery(ctx context.Context, query string, filters Filters, limit int) ([]*SectionMatch, error) {
	parsed := ParseQuery(query)
	if parsed.Empty() {
		return nil, nil
	}
	match := parsed.ToFTS5()

	args := []any{match}
	where := filterClauses(filters, &args)
	args = append(args, limit)

	// bm25() returns negative values, lower is better; negate for a
	// descending positive rank.
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.dok_id, f.section_id, sec.title,
		       snippet(sections_fts, 3, '**', '**', ' … ', 40),
		       sec.content, d.short_title, d.title, d.category, d.ministry,
		       d.based_on, d.legal_area, d.is_current,
		       -bm25(sections_fts) AS rank
		FROM sections_fts f
		JOIN sections sec ON sec.dok_id = f.dok_id AND sec.section_id = f.section_id
		JOIN documents d ON d.dok_id = f.dok_id
		WHERE sections_fts MATCH ?`+where+`
		ORDER BY rank DESC, f.dok_id ASC, f.section_id ASC
		LIMIT ?`, args...)
	if err != nil {
		// FTS5 rejects malformed match expressions; treat as no results.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, errors.Internal("full-text query failed").WithDetail("cause", err.Error())
	}
	defer rows.Close()

	var matches []*SectionMatch
	for rows.Next() {
		var m SectionMatch
		var current int
		if err := rows.Scan(&m.DokID, &m.SectionID, &m.Title, &m.Snippet,
			&m.Content, &m.ShortTitle, &m.DocTitle, &m.Category, &m.Ministry,
			&m.BasedOn, &m.LegalArea, &current, &m.Rank); err != nil {
			return nil, errors.Internal("failed to scan match").WithDetail("cause", err.Error())
		}
		m.IsCurrent = current != 0
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

// ensureVectorIndex builds the HNSW graph from persisted embeddings once.
func (s *SQLiteStore) ensureVectorIndex(ctx context.Context) (*vectorIndex, error) {
	s.vecOnce.Do(func() {
		vec := newVectorIndex()
		rows, err := s.db.QueryContext(ctx,
			`SELECT dok_id, section_id, vector FROM section_embeddings`)
		if err != nil {
			s.vecErr = errors.Internal("failed to load embeddings").WithDetail("cause", err.Error())
			return
		}
		defer rows.Close()
		count := 0
		for rows.Next() {
			var ref sectionRef
			var blob []byte
			if err := rows.Scan(&ref.DokID, &ref.SectionID, &blob); err != nil {
				s.vecErr = errors.Internal("failed to scan embedding").WithDetail("cause", err.Error())
				return
			}
			v, err := decodeVector(blob)
			if err != nil {
				s.logger.Warn("skipping corrupt embedding",
					slog.String("dok_id", ref.DokID),
					slog.String("section_id", ref.SectionID))
				continue
			}
			vec.Add(ref, v)
			count++
		}
		if err := rows.Err(); err != nil {
			s.vecErr = errors.Internal("embedding load failed").WithDetail("cause", err.Error())
			return
		}
		s.logger.Debug("vector index built", slog.Int("vectors", count))
		s.vec = vec
	})
	return s.vec, s.vecErr
}

func (s *SQLiteStore) VectorQuery(ctx context.Context, embedding []float32, filters Filters, limit int) ([]*SectionMatch, error) {
	vec, err := s.ensureVectorIndex(ctx)
	if err != nil {
		return nil, err
	}
	// Over-fetch so post-search filtering can still fill the limit.
	hits := vec.Search(embedding, limit*4+8)
	var matches []*SectionMatch
	for _, hit := range hits {
		if len(matches) == limit {
			break
		}
		m, err := s.hydrateMatch(ctx, hit.Ref, filters)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		m.Similarity = hit.Similarity
		matches = append(matches, m)
	}
	return matches, nil
}

// hydrateMatch loads section and document fields for a vector hit,
// returning nil when the row no longer exists or fails the filters.
func (s *SQLiteStore) hydrateMatch(ctx context.Context, ref sectionRef, filters Filters) (*SectionMatch, error) {
	args := []any{ref.DokID, ref.SectionID}
	where := filterClauses(filters, &args)
	var m SectionMatch
	var current int
	err := s.db.QueryRowContext(ctx, `
		SELECT sec.dok_id, sec.section_id, sec.title, sec.content,
		       d.short_title, d.title, d.category, d.ministry, d.based_on,
		       d.legal_area, d.is_current
		FROM sections sec
		JOIN documents d ON d.dok_id = sec.dok_id
		WHERE sec.dok_id = ? AND sec.section_id = ?`+where,
		args...).Scan(&m.DokID, &m.SectionID, &m.Title, &m.Content,
		&m.ShortTitle, &m.DocTitle, &m.Category, &m.Ministry, &m.BasedOn,
		&m.LegalArea, &current)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Internal("failed to hydrate vector match").WithDetail("cause", err.Error())
	}
	m.IsCurrent = current != 0
	return &m, nil
}

// --- Embeddings ---

func (s *SQLiteStore) SectionsWithoutEmbedding(ctx context.Context, limit int) ([]*Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sec.dok_id, sec.section_id, sec.title, sec.content, sec.address,
		       sec.char_count, sec.fingerprint, sec.structure_key
		FROM sections sec
		JOIN documents d ON d.dok_id = sec.dok_id
		LEFT JOIN section_embeddings e
		  ON e.dok_id = sec.dok_id AND e.section_id = sec.section_id
		WHERE e.dok_id IS NULL AND d.is_current = 1
		ORDER BY sec.dok_id, sec.section_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Internal("failed to list unembedded sections").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var secs []*Section
	for rows.Next() {
		var sec Section
		if err := rows.Scan(&sec.DokID, &sec.SectionID, &sec.Title, &sec.Content,
			&sec.Address, &sec.CharCount, &sec.Fingerprint, &sec.StructureKey); err != nil {
			return nil, errors.Internal("failed to scan section").WithDetail("cause", err.Error())
		}
		secs = append(secs, &sec)
	}
	return secs, rows.Err()
}

func (s *SQLiteStore) SaveSectionEmbedding(ctx context.Context, emb *SectionEmbedding) error {
	if len(emb.Vector) == 0 {
		return errors.Validation("empty embedding vector").
			WithDetail("dok_id", emb.DokID).WithDetail("section_id", emb.SectionID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO section_embeddings (dok_id, section_id, model, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(dok_id, section_id) DO UPDATE SET
			model = excluded.model,
			vector = excluded.vector`,
		emb.DokID, emb.SectionID, emb.Model, encodeVector(emb.Vector))
	if err != nil {
		return errors.Internal("failed to save embedding").WithDetail("cause", err.Error())
	}
	if s.vec != nil {
		s.vec.Add(sectionRef{DokID: emb.DokID, SectionID: emb.SectionID}, emb.Vector)
	}
	return nil
}

func (s *SQLiteStore) InvalidateEmbedding(ctx context.Context, dokID, sectionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM section_embeddings WHERE dok_id = ? AND section_id = ?`,
		NormalizeID(dokID), sectionID)
	if err != nil {
		return errors.Internal("failed to invalidate embedding").WithDetail("cause", err.Error())
	}
	if s.vec != nil {
		s.vec.Remove(sectionRef{DokID: NormalizeID(dokID), SectionID: sectionID})
	}
	return nil
}

// --- Sync state ---

func (s *SQLiteStore) GetSyncState(ctx context.Context, dataset Dataset) (*SyncState, error) {
	var state SyncState
	var lastModified, syncedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT dataset, last_modified, synced_at, file_count, status, error_message
		FROM sync_meta WHERE dataset = ?`, dataset).Scan(
		&state.Dataset, &lastModified, &syncedAt, &state.FileCount,
		&state.Status, &state.ErrorMessage)
	if err == sql.ErrNoRows {
		return &SyncState{Dataset: dataset, Status: SyncIdle}, nil
	}
	if err != nil {
		return nil, errors.Internal("failed to get sync state").WithDetail("cause", err.Error())
	}
	if lastModified != "" {
		state.LastModified, _ = time.Parse(time.RFC3339, lastModified)
	}
	if syncedAt != "" {
		state.SyncedAt, _ = time.Parse(time.RFC3339, syncedAt)
	}
	return &state, nil
}

func (s *SQLiteStore) BeginSync(ctx context.Context, dataset Dataset) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (dataset, status) VALUES (?, ?)
		ON CONFLICT(dataset) DO UPDATE SET status = ?, error_message = ''
		WHERE sync_meta.status != ?`,
		dataset, SyncRunning, SyncRunning, SyncRunning)
	if err != nil {
		return errors.Internal("failed to begin sync").WithDetail("cause", err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSyncRunning.WithDetail("dataset", string(dataset))
	}
	return nil
}

func (s *SQLiteStore) FinishSync(ctx context.Context, dataset Dataset, lastModified time.Time, fileCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_meta SET status = ?, last_modified = ?, synced_at = ?,
			file_count = ?, error_message = ''
		WHERE dataset = ?`,
		SyncIdle, lastModified.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), fileCount, dataset)
	if err != nil {
		return errors.Internal("failed to finish sync").WithDetail("cause", err.Error())
	}
	return nil
}

func (s *SQLiteStore) FailSync(ctx context.Context, dataset Dataset, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_meta SET status = ?, error_message = ? WHERE dataset = ?`,
		SyncError, message, dataset)
	if err != nil {
		return errors.Internal("failed to record sync error").WithDetail("cause", err.Error())
	}
	return nil
}

func (s *SQLiteStore) IsSynced(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_meta WHERE synced_at != ''`).Scan(&n)
	if err != nil {
		return false, errors.Internal("failed to check sync state").WithDetail("cause", err.Error())
	}
	return n >= len(Datasets), nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paragraf/paragraf/internal/errors"
)

// mapPGErr classifies server failures on write paths by SQLSTATE class:
// integrity violations (23xxx) poison only the offending row, while
// serialization failures, lock waits and lost connections are retryable.
func mapPGErr(msg string, err error) *errors.Error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return errors.PermanentItem(msg).
				WithDetail("sqlstate", pgErr.Code).WithDetail("cause", err.Error())
		case strings.HasPrefix(pgErr.Code, "40"), strings.HasPrefix(pgErr.Code, "55"):
			return errors.Transient(msg).
				WithDetail("sqlstate", pgErr.Code).WithDetail("cause", err.Error())
		}
		return errors.Internal(msg).
			WithDetail("sqlstate", pgErr.Code).WithDetail("cause", err.Error())
	}
	var netErr net.Error
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || stderrors.As(err, &netErr) {
		return errors.Transient(msg).WithDetail("cause", err.Error())
	}
	return errors.Internal(msg).WithDetail("cause", err.Error())
}

// PostgresStore is the primary backend: native full-text ranking via
// tsvector/websearch_to_tsquery, trigram similarity via pg_trgm, and
// nearest-neighbor search via pgvector. When an extension is missing
// (restricted hosting), the affected capability degrades: fuzzy matching
// falls back to the Go trigram implementation and vector search reports
// itself unavailable.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	hasTrgm   bool
	hasVector bool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and ensures the schema.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Validation("invalid database URL").WithDetail("cause", err.Error())
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Transient("failed to connect to postgres").WithDetail("cause", err.Error())
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Transient("postgres ping failed").WithDetail("cause", err.Error())
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	// Extensions first: the section schema depends on whether vector exists.
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pg_trgm`); err != nil {
		s.logger.Warn("pg_trgm unavailable, using in-process trigram similarity",
			slog.String("error", err.Error()))
	} else {
		s.hasTrgm = true
	}
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		s.logger.Warn("pgvector unavailable, vector search disabled",
			slog.String("error", err.Error()))
	} else {
		s.hasVector = true
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			dok_id        TEXT PRIMARY KEY,
			ref_id        TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL DEFAULT '',
			short_title   TEXT NOT NULL DEFAULT '',
			category      TEXT NOT NULL,
			ministry      TEXT NOT NULL DEFAULT '',
			date_in_force TEXT NOT NULL DEFAULT '',
			is_amendment  BOOLEAN NOT NULL DEFAULT FALSE,
			is_current    BOOLEAN NOT NULL DEFAULT TRUE,
			legal_area    TEXT NOT NULL DEFAULT '',
			based_on      TEXT NOT NULL DEFAULT '',
			indexed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_ref_id ON documents (ref_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_short_title ON documents (lower(short_title))`,
		`CREATE INDEX IF NOT EXISTS idx_documents_category ON documents (category, is_current)`,
		`CREATE TABLE IF NOT EXISTS sections (
			dok_id        TEXT NOT NULL,
			section_id    TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			content       TEXT NOT NULL,
			address       TEXT NOT NULL DEFAULT '',
			char_count    INTEGER NOT NULL DEFAULT 0,
			fingerprint   TEXT NOT NULL DEFAULT '',
			structure_key TEXT NOT NULL DEFAULT '',
			seq           BIGSERIAL,
			tsv           tsvector GENERATED ALWAYS AS
				(to_tsvector('norwegian', title || ' ' || content)) STORED,
			PRIMARY KEY (dok_id, section_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sections_tsv ON sections USING gin (tsv)`,
		`CREATE TABLE IF NOT EXISTS structure_nodes (
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
		)`,
		`CREATE TABLE IF NOT EXISTS sync_meta (
			dataset       TEXT PRIMARY KEY,
			last_modified TIMESTAMPTZ,
			synced_at     TIMESTAMPTZ,
			file_count    INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL DEFAULT 'idle',
			error_message TEXT NOT NULL DEFAULT ''
		)`,
	}
	if s.hasVector {
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS section_embeddings (
				dok_id     TEXT NOT NULL,
				section_id TEXT NOT NULL,
				model      TEXT NOT NULL DEFAULT '',
				embedding  vector(1536) NOT NULL,
				PRIMARY KEY (dok_id, section_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_section_embeddings_ann
				ON section_embeddings USING hnsw (embedding vector_cosine_ops)`)
	}
	if s.hasTrgm {
		stmts = append(stmts,
			`CREATE INDEX IF NOT EXISTS idx_documents_short_title_trgm
				ON documents USING gin (short_title gin_trgm_ops)`)
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Internal("failed to initialize postgres schema").WithDetail("cause", err.Error())
		}
	}
	return nil
}

// --- Documents ---

const pgDocColumns = `dok_id, ref_id, title, short_title, category, ministry,
	date_in_force, is_amendment, is_current, legal_area, based_on, indexed_at`

func scanPgDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.DokID, &d.RefID, &d.Title, &d.ShortTitle, &d.Category,
		&d.Ministry, &d.DateInForce, &d.IsAmendment, &d.IsCurrent,
		&d.LegalArea, &d.BasedOn, &d.IndexedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc *Document) error {
	if doc.DokID == "" {
		return errors.Validation("document missing dok_id")
	}
	indexedAt := doc.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (`+pgDocColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dok_id) DO UPDATE SET
			ref_id = EXCLUDED.ref_id,
			title = EXCLUDED.title,
			short_title = EXCLUDED.short_title,
			category = EXCLUDED.category,
			ministry = EXCLUDED.ministry,
			date_in_force = EXCLUDED.date_in_force,
			is_amendment = EXCLUDED.is_amendment,
			is_current = EXCLUDED.is_current,
			legal_area = EXCLUDED.legal_area,
			based_on = EXCLUDED.based_on,
			indexed_at = EXCLUDED.indexed_at`,
		doc.DokID, doc.RefID, doc.Title, doc.ShortTitle, doc.Category,
		doc.Ministry, doc.DateInForce, doc.IsAmendment, doc.IsCurrent,
		doc.LegalArea, doc.BasedOn, indexedAt)
	if err != nil {
		return mapPGErr("failed to upsert document", err).WithDetail("dok_id", doc.DokID)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, dokID string) (*Document, error) {
	id := NormalizeID(dokID)
	doc, err := scanPgDocument(s.pool.QueryRow(ctx,
		`SELECT `+pgDocColumns+` FROM documents WHERE dok_id = $1`, id))
	if err == nil {
		return doc, nil
	}
	if err != pgx.ErrNoRows {
		return nil, errors.Internal("failed to get document").WithDetail("cause", err.Error())
	}
	doc, err = scanPgDocument(s.pool.QueryRow(ctx,
		`SELECT `+pgDocColumns+` FROM documents WHERE ref_id = $1 LIMIT 1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document not found").WithDetail("dok_id", dokID)
	}
	if err != nil {
		return nil, errors.Internal("failed to get document").WithDetail("cause", err.Error())
	}
	return doc, nil
}

func (s *PostgresStore) FindByShortTitle(ctx context.Context, shortTitle string) (*Document, error) {
	doc, err := scanPgDocument(s.pool.QueryRow(ctx, `
		SELECT `+pgDocColumns+` FROM documents
		WHERE lower(short_title) = lower($1) AND is_current
		ORDER BY is_amendment ASC, dok_id ASC LIMIT 1`, shortTitle))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("no document with short title").WithDetail("short_title", shortTitle)
	}
	if err != nil {
		return nil, errors.Internal("failed to find by short title").WithDetail("cause", err.Error())
	}
	return doc, nil
}

func (s *PostgresStore) FuzzyShortTitle(ctx context.Context, input string, threshold float64, limit int) ([]*FuzzyMatch, error) {
	if !s.hasTrgm {
		return s.fuzzyShortTitleFallback(ctx, input, threshold, limit)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT dok_id, short_title, similarity(short_title, $1) AS sim
		FROM documents
		WHERE short_title != '' AND is_current AND NOT is_amendment
		  AND similarity(short_title, $1) >= $2
		ORDER BY sim DESC, length(short_title) ASC, short_title ASC
		LIMIT $3`, input, threshold, limit)
	if err != nil {
		return nil, errors.Internal("fuzzy title query failed").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var matches []*FuzzyMatch
	for rows.Next() {
		var m FuzzyMatch
		if err := rows.Scan(&m.DokID, &m.ShortTitle, &m.Similarity); err != nil {
			return nil, errors.Internal("failed to scan fuzzy match").WithDetail("cause", err.Error())
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) fuzzyShortTitleFallback(ctx context.Context, input string, threshold float64, limit int) ([]*FuzzyMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dok_id, short_title FROM documents
		WHERE short_title != '' AND is_current AND NOT is_amendment`)
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

func (s *PostgresStore) DocumentsByCategory(ctx context.Context, cat Category) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgDocColumns+` FROM documents WHERE category = $1 ORDER BY dok_id`, cat)
	if err != nil {
		return nil, errors.Internal("failed to list documents").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, errors.Internal("failed to scan document").WithDetail("cause", err.Error())
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) SetLegalArea(ctx context.Context, dokID, legalArea string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET legal_area = $1 WHERE dok_id = $2`, legalArea, NormalizeID(dokID))
	if err != nil {
		return errors.Internal("failed to set legal area").WithDetail("cause", err.Error())
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("document not found").WithDetail("dok_id", dokID)
	}
	return nil
}

func (s *PostgresStore) MarkNonCurrent(ctx context.Context, cat Category, seenIDs []string) (int, error) {
	normalized := make([]string, 0, len(seenIDs))
	for _, id := range seenIDs {
		normalized = append(normalized, NormalizeID(id))
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Internal("failed to begin transaction").WithDetail("cause", err.Error())
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET is_current = FALSE
		WHERE category = $1 AND is_current AND NOT (dok_id = ANY($2))`,
		cat, normalized)
	if err != nil {
		return 0, errors.Internal("failed to mark non-current").WithDetail("cause", err.Error())
	}
	restored, err := tx.Exec(ctx, `
		UPDATE documents SET is_current = TRUE
		WHERE category = $1 AND NOT is_current AND dok_id = ANY($2)`,
		cat, normalized)
	if err != nil {
		return 0, errors.Internal("failed to restore documents").WithDetail("cause", err.Error())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Internal("failed to commit currency update").WithDetail("cause", err.Error())
	}
	marked := int(tag.RowsAffected())
	if marked > 0 || restored.RowsAffected() > 0 {
		s.logger.Info("document currency updated",
			slog.String("category", string(cat)),
			slog.Int("marked_non_current", marked),
			slog.Int64("restored", restored.RowsAffected()))
	}
	return marked, nil
}

func (s *PostgresStore) RelatedRegulations(ctx context.Context, lawID string) ([]*Document, error) {
	id := NormalizeID(lawID)
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgDocColumns+` FROM documents
		WHERE category = $1 AND is_current
		  AND $2 = ANY(string_to_array(based_on, '; '))
		ORDER BY dok_id`, CategoryRegulation, id)
	if err != nil {
		return nil, errors.Internal("failed to query related regulations").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, errors.Internal("failed to scan regulation").WithDetail("cause", err.Error())
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) ListMinistries(ctx context.Context) ([]string, error) {
	return s.distinctColumn(ctx, "ministry")
}

func (s *PostgresStore) ListLegalAreas(ctx context.Context) ([]string, error) {
	return s.distinctColumn(ctx, "legal_area")
}

func (s *PostgresStore) distinctColumn(ctx context.Context, col string) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT DISTINCT %s FROM documents WHERE %s != '' AND is_current ORDER BY %s`,
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

func (s *PostgresStore) UpsertSection(ctx context.Context, sec *Section) error {
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sections (dok_id, section_id, title, content, address, char_count, fingerprint, structure_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dok_id, section_id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			address = EXCLUDED.address,
			char_count = EXCLUDED.char_count,
			fingerprint = EXCLUDED.fingerprint,
			structure_key = EXCLUDED.structure_key`,
		sec.DokID, sec.SectionID, sec.Title, sec.Content, sec.Address,
		sec.CharCount, sec.Fingerprint, sec.StructureKey)
	if err != nil {
		return mapPGErr("failed to upsert section", err)
	}
	return nil
}

func (s *PostgresStore) GetSection(ctx context.Context, dokID, sectionID string) (*Section, error) {
	var sec Section
	err := s.pool.QueryRow(ctx, `
		SELECT dok_id, section_id, title, content, address, char_count, fingerprint, structure_key
		FROM sections WHERE dok_id = $1 AND section_id = $2`,
		NormalizeID(dokID), sectionID).Scan(
		&sec.DokID, &sec.SectionID, &sec.Title, &sec.Content, &sec.Address,
		&sec.CharCount, &sec.Fingerprint, &sec.StructureKey)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("section not found").
			WithDetail("dok_id", dokID).WithDetail("section_id", sectionID)
	}
	if err != nil {
		return nil, errors.Internal("failed to get section").WithDetail("cause", err.Error())
	}
	return &sec, nil
}

func (s *PostgresStore) GetSections(ctx context.Context, dokID string, sectionIDs []string) ([]*Section, error) {
	if len(sectionIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT dok_id, section_id, title, content, address, char_count, fingerprint, structure_key
		FROM sections WHERE dok_id = $1 AND section_id = ANY($2)`,
		NormalizeID(dokID), sectionIDs)
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
	out := make([]*Section, 0, len(byID))
	for _, sid := range sectionIDs {
		if sec, ok := byID[sid]; ok {
			out = append(out, sec)
		}
	}
	return out, nil
}

func (s *PostgresStore) ListSections(ctx context.Context, dokID string) ([]*SectionInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT section_id, title, char_count, address, structure_key
		FROM sections WHERE dok_id = $1`, NormalizeID(dokID))
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

func (s *PostgresStore) SectionFingerprints(ctx context.Context, dokID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT section_id, fingerprint FROM sections WHERE dok_id = $1`, NormalizeID(dokID))
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

func (s *PostgresStore) ReplaceStructure(ctx context.Context, dokID string, nodes []*StructureNode) error {
	id := NormalizeID(dokID)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Internal("failed to begin transaction").WithDetail("cause", err.Error())
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM structure_nodes WHERE dok_id = $1`, id); err != nil {
		return errors.Internal("failed to clear structure").WithDetail("cause", err.Error())
	}
	for i, n := range nodes {
		if n.Parent >= i {
			return errors.Invariant("structure node parent must precede child").
				WithDetail("dok_id", id).WithDetail("index", fmt.Sprint(i))
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO structure_nodes (dok_id, idx, kind, label, title, ordinal, parent, address, depth)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, i, n.Kind, n.Label, n.Title, n.Ordinal, n.Parent, n.Address, n.Depth); err != nil {
			return mapPGErr("failed to insert structure node", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListStructure(ctx context.Context, dokID string) ([]*StructureNode, error) {
	id := NormalizeID(dokID)
	rows, err := s.pool.Query(ctx, `
		SELECT kind, label, title, ordinal, parent, address, depth
		FROM structure_nodes WHERE dok_id = $1 ORDER BY idx`, id)
	if err != nil {
		return nil, errors.Internal("failed to list structure").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var nodes []*StructureNode
	for rows.Next() {
		n := &StructureNode{DokID: id}
		if err := rows.Scan(&n.Kind, &n.Label, &n.Title, &n.Ordinal,
			&n.Parent, &n.Address, &n.Depth); err != nil {
			return nil, errors.Internal("failed to scan structure node").WithDetail("cause", err.Error())
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// --- Search ---

func pgFilterClauses(filters Filters, args *[]any) string {
	var sb strings.Builder
	if filters.Category != "" {
		*args = append(*args, filters.Category)
		fmt.Fprintf(&sb, " AND d.category = $%d", len(*args))
	}
	if filters.Ministry != "" {
		*args = append(*args, "%"+filters.Ministry+"%")
		fmt.Fprintf(&sb, " AND d.ministry ILIKE $%d", len(*args))
	}
	if filters.LegalArea != "" {
		*args = append(*args, "%"+filters.LegalArea+"%")
		fmt.Fprintf(&sb, " AND d.legal_area ILIKE $%d", len(*args))
	}
	if !filters.IncludeAmendments {
		sb.WriteString(" AND NOT d.is_amendment")
	}
	sb.WriteString(" AND d.is_current")
	return sb.String()
}

func (s *PostgresStore) FullTextQuery(ctx context.Context, query string, filters Filters, limit int) ([]*SectionMatch, error) {
	if ParseQuery(query).Empty() {
		return nil, nil
	}
	args := []any{query}
	where := pgFilterClauses(filters, &args)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT sec.dok_id, sec.section_id, sec.title,
		       ts_headline('norwegian', sec.content, q,
		           'StartSel=**, StopSel=**, MaxWords=40, MinWords=15'),
		       sec.content, d.short_title, d.title, d.category, d.ministry,
		       d.based_on, d.legal_area, d.is_current,
		       ts_rank(sec.tsv, q) AS rank
		FROM sections sec
		JOIN documents d ON d.dok_id = sec.dok_id,
		     websearch_to_tsquery('norwegian', $1) q
		WHERE sec.tsv @@ q%s
		ORDER BY rank DESC, sec.dok_id ASC, sec.section_id ASC
		LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, errors.Internal("full-text query failed").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var matches []*SectionMatch
	for rows.Next() {
		var m SectionMatch
		if err := rows.Scan(&m.DokID, &m.SectionID, &m.Title, &m.Snippet,
			&m.Content, &m.ShortTitle, &m.DocTitle, &m.Category, &m.Ministry,
			&m.BasedOn, &m.LegalArea, &m.IsCurrent, &m.Rank); err != nil {
			return nil, errors.Internal("failed to scan match").WithDetail("cause", err.Error())
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) VectorQuery(ctx context.Context, embedding []float32, filters Filters, limit int) ([]*SectionMatch, error) {
	if !s.hasVector {
		return nil, errors.Internal("vector search requires the pgvector extension")
	}
	args := []any{vectorLiteral(embedding)}
	where := pgFilterClauses(filters, &args)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT sec.dok_id, sec.section_id, sec.title, sec.content,
		       d.short_title, d.title, d.category, d.ministry, d.based_on,
		       d.legal_area, d.is_current,
		       1 - (e.embedding <=> $1::vector) AS similarity
		FROM section_embeddings e
		JOIN sections sec ON sec.dok_id = e.dok_id AND sec.section_id = e.section_id
		JOIN documents d ON d.dok_id = e.dok_id
		WHERE TRUE%s
		ORDER BY e.embedding <=> $1::vector ASC, sec.dok_id ASC, sec.section_id ASC
		LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, errors.Internal("vector query failed").WithDetail("cause", err.Error())
	}
	defer rows.Close()
	var matches []*SectionMatch
	for rows.Next() {
		var m SectionMatch
		if err := rows.Scan(&m.DokID, &m.SectionID, &m.Title, &m.Content,
			&m.ShortTitle, &m.DocTitle, &m.Category, &m.Ministry, &m.BasedOn,
			&m.LegalArea, &m.IsCurrent, &m.Similarity); err != nil {
			return nil, errors.Internal("failed to scan vector match").WithDetail("cause", err.Error())
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

// vectorLiteral renders a float32 slice in pgvector's input syntax.
func vectorLiteral(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", x)
	}
	sb.WriteByte(']')
	return sb.String()
}

// --- Embeddings ---

func (s *PostgresStore) SectionsWithoutEmbedding(ctx context.Context, limit int) ([]*Section, error) {
	if !s.hasVector {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT sec.dok_id, sec.section_id, sec.title, sec.content, sec.address,
		       sec.char_count, sec.fingerprint, sec.structure_key
		FROM sections sec
		JOIN documents d ON d.dok_id = sec.dok_id
		LEFT JOIN section_embeddings e
		  ON e.dok_id = sec.dok_id AND e.section_id = sec.section_id
		WHERE e.dok_id IS NULL AND d.is_current
		ORDER BY sec.dok_id, sec.section_id
		LIMIT $1`, limit)
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

func (s *PostgresStore) SaveSectionEmbedding(ctx context.Context, emb *SectionEmbedding) error {
	if !s.hasVector {
		return errors.Internal("vector storage requires the pgvector extension")
	}
	if len(emb.Vector) == 0 {
		return errors.Validation("empty embedding vector").
			WithDetail("dok_id", emb.DokID).WithDetail("section_id", emb.SectionID)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO section_embeddings (dok_id, section_id, model, embedding)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (dok_id, section_id) DO UPDATE SET
			model = EXCLUDED.model,
			embedding = EXCLUDED.embedding`,
		emb.DokID, emb.SectionID, emb.Model, vectorLiteral(emb.Vector))
	if err != nil {
		return errors.Internal("failed to save embedding").WithDetail("cause", err.Error())
	}
	return nil
}

func (s *PostgresStore) InvalidateEmbedding(ctx context.Context, dokID, sectionID string) error {
	if !s.hasVector {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM section_embeddings WHERE dok_id = $1 AND section_id = $2`,
		NormalizeID(dokID), sectionID)
	if err != nil {
		return errors.Internal("failed to invalidate embedding").WithDetail("cause", err.Error())
	}
	return nil
}

// --- Sync state ---

func (s *PostgresStore) GetSyncState(ctx context.Context, dataset Dataset) (*SyncState, error) {
	var state SyncState
	var lastModified, syncedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT dataset, last_modified, synced_at, file_count, status, error_message
		FROM sync_meta WHERE dataset = $1`, dataset).Scan(
		&state.Dataset, &lastModified, &syncedAt, &state.FileCount,
		&state.Status, &state.ErrorMessage)
	if err == pgx.ErrNoRows {
		return &SyncState{Dataset: dataset, Status: SyncIdle}, nil
	}
	if err != nil {
		return nil, errors.Internal("failed to get sync state").WithDetail("cause", err.Error())
	}
	if lastModified != nil {
		state.LastModified = *lastModified
	}
	if syncedAt != nil {
		state.SyncedAt = *syncedAt
	}
	return &state, nil
}

func (s *PostgresStore) BeginSync(ctx context.Context, dataset Dataset) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sync_meta (dataset, status) VALUES ($1, $2)
		ON CONFLICT (dataset) DO UPDATE SET status = $2, error_message = ''
		WHERE sync_meta.status != $2`,
		dataset, SyncRunning)
	if err != nil {
		return errors.Internal("failed to begin sync").WithDetail("cause", err.Error())
	}
	if tag.RowsAffected() == 0 {
		return ErrSyncRunning.WithDetail("dataset", string(dataset))
	}
	return nil
}

func (s *PostgresStore) FinishSync(ctx context.Context, dataset Dataset, lastModified time.Time, fileCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_meta SET status = $1, last_modified = $2, synced_at = now(),
			file_count = $3, error_message = ''
		WHERE dataset = $4`,
		SyncIdle, lastModified, fileCount, dataset)
	if err != nil {
		return errors.Internal("failed to finish sync").WithDetail("cause", err.Error())
	}
	return nil
}

func (s *PostgresStore) FailSync(ctx context.Context, dataset Dataset, message string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_meta SET status = $1, error_message = $2 WHERE dataset = $3`,
		SyncError, message, dataset)
	if err != nil {
		return errors.Internal("failed to record sync error").WithDetail("cause", err.Error())
	}
	return nil
}

func (s *PostgresStore) IsSynced(ctx context.Context) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_meta WHERE synced_at IS NOT NULL`).Scan(&n)
	if err != nil {
		return false, errors.Internal("failed to check sync state").WithDetail("cause", err.Error())
	}
	return n >= len(Datasets), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Package store provides the persistence capability interface over the
// statutory corpus, with two interchangeable implementations: Postgres
// (native full-text ranking, pg_trgm similarity, pgvector nearest-neighbor)
// and an embedded SQLite fallback (FTS5, Go trigram similarity, HNSW).
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/paragraf/paragraf/internal/errors"
)

// Category is the document category. The corpus has exactly two kinds.
type Category string

const (
	// CategoryLaw is a primary law ("lov").
	CategoryLaw Category = "lov"
	// CategoryRegulation is a central subordinate regulation ("forskrift").
	CategoryRegulation Category = "forskrift"
)

// Dataset names the two bulk datasets published by the API.
type Dataset string

const (
	DatasetLaws        Dataset = "lover"
	DatasetRegulations Dataset = "forskrifter"
)

// Datasets lists all datasets in sync order.
var Datasets = []Dataset{DatasetLaws, DatasetRegulations}

// Category returns the document category stored for documents of this dataset.
func (d Dataset) Category() Category {
	if d == DatasetRegulations {
		return CategoryRegulation
	}
	return CategoryLaw
}

// ArchiveFile returns the bulk archive filename for this dataset.
func (d Dataset) ArchiveFile() string {
	if d == DatasetRegulations {
		return "gjeldende-sentrale-forskrifter.tar.bz2"
	}
	return "gjeldende-lover.tar.bz2"
}

// Document represents one law or regulation.
type Document struct {
	DokID       string   // canonical ID, e.g. "lov/1992-07-03-93"
	RefID       string   // reference ID as published, may equal DokID
	Title       string
	ShortTitle  string
	Category    Category
	Ministry    string
	DateInForce string
	IsAmendment bool
	IsCurrent   bool
	LegalArea   string
	BasedOn     string // enabling references, "; "-delimited (regulations only)
	IndexedAt   time.Time
}

// Section is one addressable provision within a document.
type Section struct {
	DokID       string
	SectionID   string // label, e.g. "3-9"; unique per document only
	Title       string
	Content     string // always non-empty for a persisted section
	Address     string // source address (data-absoluteaddress)
	CharCount   int
	Fingerprint string // content hash, pure function of Content
	// StructureKey references the owning structure node as kind+":"+label,
	// empty for sections encountered before any heading.
	StructureKey string
}

// EstimatedTokens approximates the token count of the section text.
func (s *Section) EstimatedTokens() int {
	return EstimateTokens(s.Content)
}

// CharsPerToken is the character-to-token ratio for Norwegian legal text.
const CharsPerToken = 3.5

// EstimateTokens converts a character count to an approximate token count.
func EstimateTokens(text string) int {
	return int(float64(len(text)) / CharsPerToken)
}

// Fingerprint computes the content fingerprint of section text.
// Deterministic: byte-identical text always yields the same value.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NodeKind is the kind of a table-of-contents entry.
type NodeKind string

const (
	NodePart       NodeKind = "del"
	NodeChapter    NodeKind = "kapittel"
	NodeSubchapter NodeKind = "avsnitt"
	NodeAttachment NodeKind = "vedlegg"
)

// StructureNode is one level of a document's table of contents.
// Nodes form a forest per document: Parent is an index into the node
// slice of the same document, -1 for roots.
type StructureNode struct {
	DokID   string
	Kind    NodeKind
	Label   string
	Title   string
	Ordinal int // sibling order within the same parent, document order
	Parent  int // arena index of the parent node, -1 for roots
	Address string
	Depth   int // heading depth the node was reconstructed from
}

// Key returns the structure key sections use to reference this node.
func (n *StructureNode) Key() string {
	return string(n.Kind) + ":" + n.Label
}

// SyncStatus is the status field of a dataset's sync state.
/// Transitions: idle -> syncing -> {idle, error}; error -> syncing on retry.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncRunning SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

// SyncState is the per-dataset sync record. The Status field doubles as
// the advisory single-writer lock.
type SyncState struct {
	Dataset      Dataset
	LastModified time.Time // external modification time of the last synced archive
	SyncedAt     time.Time // local completion time of the last successful sync
	FileCount    int
	Status       SyncStatus
	ErrorMessage string
}

// ErrSyncRunning is returned by BeginSync when the dataset lock is held.
var ErrSyncRunning = errors.LockConflict("sync already running for dataset")

// Filters narrows full-text and vector queries.
type Filters struct {
	Category          Category // empty = both categories
	Ministry          string   // substring match
	LegalArea         string   // substring match
	IncludeAmendments bool     // amendment laws excluded by default
}

// SectionMatch is one ranked section result from FullTextQuery or VectorQuery.
type SectionMatch struct {
	DokID      string
	SectionID  string
	Title      string
	Snippet    string // highlighted excerpt (full-text only)
	Content    string
	ShortTitle string
	DocTitle   string
	Category   Category
	Ministry   string
	BasedOn    string
	LegalArea  string
	IsCurrent  bool
	Rank       float64 // text rank, 0 when absent
	Similarity float64 // vector similarity, 0 when absent
}

// FuzzyMatch is a trigram similarity candidate for alias resolution.
type FuzzyMatch struct {
	DokID      string
	ShortTitle string
	Similarity float64
}

// SectionInfo is a section listing entry (no content).
type SectionInfo struct {
	SectionID       string
	Title           string
	CharCount       int
	EstimatedTokens int
	Address         string
	StructureKey    string
}

// SectionEmbedding pairs a section with its precomputed vector.
type SectionEmbedding struct {
	DokID     string
	SectionID string
	Vector    []float32
	Model     string
}

// Store is the capability interface over the storage engine. Both
// implementations must stay behaviorally interchangeable for every
// operation the retrieval layer depends on; the conformance suite in
// conformance_test.go runs against both.
type Store interface {
	// Documents
	UpsertDocument(ctx context.Context, doc *Document) error
	// GetDocument resolves by canonical ID or reference ID (normalized).
	GetDocument(ctx context.Context, dokID string) (*Document, error)
	FindByShortTitle(ctx context.Context, shortTitle string) (*Document, error)
	// FuzzyShortTitle returns short-title candidates with trigram similarity
	// >= threshold, best first. Ties broken by shorter title then lexical.
	FuzzyShortTitle(ctx context.Context, input string, threshold float64, limit int) ([]*FuzzyMatch, error)
	DocumentsByCategory(ctx context.Context, cat Category) ([]*Document, error)
	SetLegalArea(ctx context.Context, dokID, legalArea string) error
	// MarkNonCurrent flips IsCurrent=false for every document of cat whose
	// ID is absent from seenIDs, and back to true for present ones.
	// Runs once per full sync; returns the number of newly non-current rows.
	MarkNonCurrent(ctx context.Context, cat Category, seenIDs []string) (int, error)
	// RelatedRegulations returns regulations whose enabling reference
	// points at the given law.
	RelatedRegulations(ctx context.Context, lawID string) ([]*Document, error)
	ListMinistries(ctx context.Context) ([]string, error)
	ListLegalAreas(ctx context.Context) ([]string, error)

	// Sections
	UpsertSection(ctx context.Context, sec *Section) error
	GetSection(ctx context.Context, dokID, sectionID string) (*Section, error)
	GetSections(ctx context.Context, dokID string, sectionIDs []string) ([]*Section, error)
	ListSections(ctx context.Context, dokID string) ([]*SectionInfo, error)
	// SectionFingerprints returns label -> fingerprint for all persisted
	// sections of a document. Basis for incremental re-indexing.
	SectionFingerprints(ctx context.Context, dokID string) (map[string]string, error)

	// Structure
	// ReplaceStructure atomically discards the previous tree for the
	// document before inserting nodes.
	ReplaceStructure(ctx context.Context, dokID string, nodes []*StructureNode) error
	ListStructure(ctx context.Context, dokID string) ([]*StructureNode, error)

	// Search capabilities. Ordering is deterministic for identical inputs;
	// ties broken by DokID then SectionID.
	FullTextQuery(ctx context.Context, query string, filters Filters, limit int) ([]*SectionMatch, error)
	VectorQuery(ctx context.Context, embedding []float32, filters Filters, limit int) ([]*SectionMatch, error)

	// Embedding state
	SectionsWithoutEmbedding(ctx context.Context, limit int) ([]*Section, error)
	SaveSectionEmbedding(ctx context.Context, emb *SectionEmbedding) error
	// InvalidateEmbedding clears a section's stored vector after its text
	// fingerprint changed.
	InvalidateEmbedding(ctx context.Context, dokID, sectionID string) error

	// Sync state
	GetSyncState(ctx context.Context, dataset Dataset) (*SyncState, error)
	// BeginSync transitions the dataset idle/error -> syncing with
	// compare-and-swap semantics. Returns ErrSyncRunning on conflict.
	BeginSync(ctx context.Context, dataset Dataset) error
	FinishSync(ctx context.Context, dataset Dataset, lastModified time.Time, fileCount int) error
	FailSync(ctx context.Context, dataset Dataset, message string) error
	IsSynced(ctx context.Context) (bool, error)

	Close() error
}

// NormalizeID normalizes a caller-supplied document ID to the stored form.
//
//	LOV-1992-07-03-93      -> lov/1992-07-03-93
//	FOR-2017-06-19-840     -> forskrift/2017-06-19-840
//	NL/lov/1992-07-03-93   -> lov/1992-07-03-93
func NormalizeID(id string) string {
	upper := strings.ToUpper(id)
	switch {
	case strings.HasPrefix(upper, "LOV-"):
		return "lov/" + strings.ToLower(id[4:])
	case strings.HasPrefix(upper, "FOR-"):
		return "forskrift/" + strings.ToLower(id[4:])
	case strings.HasPrefix(upper, "NL/"):
		return strings.ToLower(id[3:])
	}
	return strings.ToLower(id)
}

// IsAmendmentTitle reports whether a document title indicates an amendment law.
func IsAmendmentTitle(title string) bool {
	t := strings.ToLower(title)
	return strings.Contains(t, "endring i ") ||
		strings.Contains(t, "endringer i ") ||
		strings.Contains(t, "endringslov") ||
		strings.Contains(t, "endr. i ")
}

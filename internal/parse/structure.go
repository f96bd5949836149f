package parse

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/paragraf/paragraf/internal/store"
)

// Heading is one structural heading event from the markup walk, in
// document order.
type Heading struct {
	Kind    store.NodeKind
	Label   string
	Title   string
	Address string
	Depth   int // 1-based nesting depth of the structural element
}

// structureBuilder folds a flat heading stream into a forest. Nodes live
// in an arena slice with index-based parent links; the open-ancestor
// stack holds arena indices keyed by heading depth.
type structureBuilder struct {
	nodes []*store.StructureNode
	stack []int // arena indices of currently-open ancestors
	// ordinals counts siblings per parent index (-1 for roots).
	ordinals map[int]int
	// used tracks kind:label keys; repeated labels (the same chapter
	// number under different parts) get a disambiguating suffix so the
	// per-document key stays unique.
	used map[string]int
}

func newStructureBuilder() *structureBuilder {
	return &structureBuilder{
		ordinals: make(map[int]int),
		used:     make(map[string]int),
	}
}

// Push opens a heading: ancestors at depth >= h.Depth are closed, the
// new node becomes a child of the nearest still-open ancestor or a root.
// Returns the structure key sections attach to while the node is open.
func (b *structureBuilder) Push(h Heading) string {
	for len(b.stack) > 0 {
		top := b.nodes[b.stack[len(b.stack)-1]]
		if top.Depth < h.Depth {
			break
		}
		b.stack = b.stack[:len(b.stack)-1]
	}
	parent := -1
	if len(b.stack) > 0 {
		parent = b.stack[len(b.stack)-1]
	}
	label := h.Label
	if label == "" {
		label = strconv.Itoa(len(b.nodes) + 1)
	}
	key := string(h.Kind) + ":" + label
	if n := b.used[key]; n > 0 {
		label = label + " (" + strconv.Itoa(n+1) + ")"
	}
	b.used[key]++
	node := &store.StructureNode{
		Kind:    h.Kind,
		Label:   label,
		Title:   h.Title,
		Ordinal: b.ordinals[parent],
		Parent:  parent,
		Address: h.Address,
		Depth:   h.Depth,
	}
	b.ordinals[parent]++
	b.nodes = append(b.nodes, node)
	b.stack = append(b.stack, len(b.nodes)-1)
	return node.Key()
}

// CurrentKey returns the key of the innermost open node, empty before
// the first heading.
func (b *structureBuilder) CurrentKey() string {
	if len(b.stack) == 0 {
		return ""
	}
	return b.nodes[b.stack[len(b.stack)-1]].Key()
}

// Nodes returns the arena in document order.
func (b *structureBuilder) Nodes() []*store.StructureNode {
	return b.nodes
}

// headingKinds maps markup class names to node kinds.
var headingKinds = map[string]store.NodeKind{
	"legalPart":       store.NodePart,
	"legalChapter":    store.NodeChapter,
	"legalSubchapter": store.NodeSubchapter,
	"legalVedlegg":    store.NodeAttachment,
	"legalAttachment": store.NodeAttachment,
}

// kindWords are the heading prefixes stripped when splitting a heading
// text into label and title, e.g. "Kapittel 2. Avtalen" -> ("2", "Avtalen").
var kindWords = map[store.NodeKind][]string{
	store.NodePart:       {"del"},
	store.NodeChapter:    {"kapittel", "kap."},
	store.NodeSubchapter: {"avsnitt"},
	store.NodeAttachment: {"vedlegg"},
}

// splitHeading separates a heading text into label and title. When the
// text does not follow the "<kind word> <label>. <title>" pattern the
// whole text becomes the title and the label falls back to the ordinal
// assigned by the builder's caller.
func splitHeading(kind store.NodeKind, text string) (label, title string) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, word := range kindWords[kind] {
		if !strings.HasPrefix(lower, word) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(word):])
		// Label runs to the first period or the end of the first word.
		if i := strings.IndexAny(rest, "."); i >= 0 {
			return strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+1:])
		}
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			return strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+1:])
		}
		return rest, ""
	}
	// Headings like "I. Oppsigelse" carry a bare label without a kind word.
	if i := strings.IndexByte(trimmed, '.'); i > 0 && i <= 4 && isLabelToken(trimmed[:i]) {
		return trimmed[:i], strings.TrimSpace(trimmed[i+1:])
	}
	return "", trimmed
}

func isLabelToken(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

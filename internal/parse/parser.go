// Package parse converts one document's publisher markup into metadata,
// an ordered section list, and a reconstructed table-of-contents forest.
// The markup is HTML5-flavored XML; parsing is tolerant, a malformed
// document degrades rather than failing the sync run.
package parse

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/internal/store"
)

// Result is the parsed form of one document.
type Result struct {
	Document *store.Document
	Sections []*store.Section
	Nodes    []*store.StructureNode
}

// Parse reads one document's markup. The document ID falls back to
// fallbackID (the archive filename stem) when the header carries none.
// A document with no extractable sections and no text is an error of
// kind PermanentItem; the caller skips it and keeps the run alive.
func Parse(r io.Reader, category store.Category, fallbackID string) (*Result, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, errors.PermanentItem("unparseable markup").
			WithDetail("fallback_id", fallbackID).WithDetail("cause", err.Error())
	}

	header := findFirst(root, classMatcher("header", "documentHeader"))
	if header == nil {
		header = findFirst(root, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "header"
		})
	}
	doc := &store.Document{
		DokID:    store.NormalizeID(firstNonEmpty(extractMeta(header, "dokid"), fallbackID)),
		Category: category,
	}
	doc.RefID = store.NormalizeID(firstNonEmpty(extractMeta(header, "refid"), doc.DokID))
	doc.Title = extractMeta(header, "title")
	doc.ShortTitle = extractMeta(header, "titleShort")
	doc.DateInForce = extractMeta(header, "dateInForce")
	doc.Ministry = extractMeta(header, "ministry")
	doc.LegalArea = extractMeta(header, "legalArea")
	doc.BasedOn = extractMeta(header, "basedOn")
	doc.IsAmendment = store.IsAmendmentTitle(doc.Title)
	doc.IsCurrent = true

	body := findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "main"
	})
	if body == nil {
		body = findFirst(root, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "body"
		})
	}
	if body == nil {
		body = root
	}

	builder := newStructureBuilder()
	var sections []*store.Section
	walkBody(body, 0, builder, doc.DokID, &sections)

	if len(sections) == 0 && strings.TrimSpace(textContent(body)) == "" {
		return nil, errors.PermanentItem("document has no extractable text").
			WithDetail("dok_id", doc.DokID)
	}
	return &Result{Document: doc, Sections: sections, Nodes: builder.Nodes()}, nil
}

// walkBody visits elements in document order. Structural wrappers push a
// heading and recurse one level deeper; article.legalArticle elements
// become sections attached to the innermost open node.
func walkBody(n *html.Node, depth int, b *structureBuilder, dokID string, sections *[]*store.Section) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		if kind, ok := structuralKind(child); ok {
			label, title := splitHeading(kind, headingText(child))
			b.Push(Heading{
				Kind:    kind,
				Label:   label,
				Title:   title,
				Address: attr(child, "data-absoluteaddress"),
				Depth:   depth + 1,
			})
			walkBody(child, depth+1, b, dokID, sections)
			continue
		}
		if child.Data == "article" && hasClass(child, "legalArticle") {
			if sec := parseSection(child, dokID, b.CurrentKey()); sec != nil {
				*sections = append(*sections, sec)
			}
			continue
		}
		walkBody(child, depth, b, dokID, sections)
	}
}

func structuralKind(n *html.Node) (store.NodeKind, bool) {
	if n.Data != "section" {
		return "", false
	}
	for class := range headingKinds {
		if hasClass(n, class) {
			return headingKinds[class], true
		}
	}
	return "", false
}

// headingText returns the text of the element's first heading child
// (h1-h6), falling back to empty.
func headingText(n *html.Node) string {
	h := findFirst(n, func(c *html.Node) bool {
		if c.Type != html.ElementNode || len(c.Data) != 2 {
			return false
		}
		return c.Data[0] == 'h' && c.Data[1] >= '1' && c.Data[1] <= '6'
	})
	if h == nil {
		return ""
	}
	return strings.TrimSpace(textContent(h))
}

// parseSection extracts one provision from article.legalArticle markup.
// Returns nil when the article has no label or no text.
func parseSection(article *html.Node, dokID, structureKey string) *store.Section {
	value := findFirst(article, classMatcher("span", "legalArticleValue"))
	if value == nil {
		return nil
	}
	sectionID := strings.TrimSpace(strings.ReplaceAll(textContent(value), "§", ""))
	sectionID = strings.TrimSuffix(strings.Join(strings.Fields(sectionID), " "), ".")
	if sectionID == "" {
		return nil
	}

	var title string
	if t := findFirst(article, classMatcher("span", "legalArticleTitle")); t != nil {
		title = strings.TrimSpace(textContent(t))
	}

	var parts []string
	walk(article, func(n *html.Node) bool {
		if n != article && n.Type == html.ElementNode && n.Data == "article" && hasClass(n, "legalP") {
			if text := strings.TrimSpace(textContent(n)); text != "" {
				parts = append(parts, text)
			}
			return false
		}
		return true
	})
	if len(parts) == 0 {
		if text := strings.TrimSpace(textContent(article)); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	content := strings.Join(parts, "\n\n")

	address := attr(article, "data-absoluteaddress")
	if address == "" {
		address = attr(article, "id")
	}
	return &store.Section{
		DokID:        dokID,
		SectionID:    sectionID,
		Title:        title,
		Content:      content,
		Address:      address,
		CharCount:    len([]rune(content)),
		Fingerprint:  store.Fingerprint(content),
		StructureKey: structureKey,
	}
}

// --- HTML helpers ---

// extractMeta reads a dt/dd metadata pair by class name. A dd holding
// several links (multi-ministry, several enabling laws) joins their
// texts with "; ".
func extractMeta(header *html.Node, class string) string {
	if header == nil {
		return ""
	}
	dd := findFirst(header, classMatcher("dd", class))
	if dd == nil {
		// Value may be keyed by the dt instead.
		dt := findFirst(header, classMatcher("dt", class))
		if dt == nil {
			return ""
		}
		for sib := dt.NextSibling; sib != nil; sib = sib.NextSibling {
			if sib.Type == html.ElementNode && sib.Data == "dd" {
				dd = sib
				break
			}
		}
		if dd == nil {
			return ""
		}
	}

	var links []string
	walk(dd, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" {
			if text := strings.TrimSpace(textContent(n)); text != "" {
				links = append(links, text)
			}
			return false
		}
		return true
	})
	if len(links) > 1 {
		return strings.Join(links, "; ")
	}
	return strings.TrimSpace(textContent(dd))
}

// findFirst returns the first node (depth-first, document order) for
// which match is true, or nil.
func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n != root && match(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits nodes depth-first; fn returning false skips the subtree.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func classMatcher(element, class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == element && hasClass(n, class)
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// textContent concatenates all text nodes under n, separating block
// boundaries with single spaces.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.TextNode {
			text := strings.TrimSpace(c.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			visit(gc)
		}
	}
	visit(n)
	return sb.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

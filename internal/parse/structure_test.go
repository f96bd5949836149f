package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paragraf/paragraf/internal/store"
)

func TestStructureBuilder_SiblingsAtSameDepth(t *testing.T) {
	b := newStructureBuilder()

	b.Push(Heading{Kind: store.NodeChapter, Label: "1", Title: "Alminnelige bestemmelser", Depth: 1})
	b.Push(Heading{Kind: store.NodeChapter, Label: "2", Title: "Avtalen", Depth: 1})

	nodes := b.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, -1, nodes[0].Parent)
	assert.Equal(t, -1, nodes[1].Parent)
	assert.Equal(t, 0, nodes[0].Ordinal)
	assert.Equal(t, 1, nodes[1].Ordinal)
}

func TestStructureBuilder_NestingAndClosing(t *testing.T) {
	b := newStructureBuilder()

	b.Push(Heading{Kind: store.NodePart, Label: "I", Depth: 1})
	b.Push(Heading{Kind: store.NodeChapter, Label: "1", Depth: 2})
	b.Push(Heading{Kind: store.NodeSubchapter, Label: "A", Depth: 3})
	// A new depth-2 heading closes both the subchapter and chapter 1
	b.Push(Heading{Kind: store.NodeChapter, Label: "2", Depth: 2})

	nodes := b.Nodes()
	require.Len(t, nodes, 4)
	assert.Equal(t, -1, nodes[0].Parent)
	assert.Equal(t, 0, nodes[1].Parent)
	assert.Equal(t, 1, nodes[2].Parent)
	assert.Equal(t, 0, nodes[3].Parent, "chapter 2 must attach to the part, not the subchapter")
	assert.Equal(t, 1, nodes[3].Ordinal, "second chapter under the same part")

	// Parent always precedes child in the arena
	for i, n := range nodes {
		assert.Less(t, n.Parent, i)
	}
}

func TestStructureBuilder_CurrentKeyTracksInnermost(t *testing.T) {
	b := newStructureBuilder()
	assert.Empty(t, b.CurrentKey(), "no heading seen yet")

	b.Push(Heading{Kind: store.NodeChapter, Label: "9", Depth: 1})
	assert.Equal(t, "kapittel:9", b.CurrentKey())

	b.Push(Heading{Kind: store.NodeSubchapter, Label: "I", Depth: 2})
	assert.Equal(t, "avsnitt:I", b.CurrentKey())

	b.Push(Heading{Kind: store.NodeChapter, Label: "10", Depth: 1})
	assert.Equal(t, "kapittel:10", b.CurrentKey())
}

func TestStructureBuilder_DuplicateLabelsGetSuffix(t *testing.T) {
	// The same chapter number can recur under different parts.
	b := newStructureBuilder()

	b.Push(Heading{Kind: store.NodePart, Label: "I", Depth: 1})
	b.Push(Heading{Kind: store.NodeChapter, Label: "1", Depth: 2})
	b.Push(Heading{Kind: store.NodePart, Label: "II", Depth: 1})
	key := b.Push(Heading{Kind: store.NodeChapter, Label: "1", Depth: 2})

	assert.Equal(t, "kapittel:1 (2)", key)

	keys := make(map[string]bool)
	for _, n := range b.Nodes() {
		assert.False(t, keys[n.Key()], "keys must be unique per document")
		keys[n.Key()] = true
	}
}

func TestStructureBuilder_EmptyLabelFallsBackToPosition(t *testing.T) {
	b := newStructureBuilder()

	key := b.Push(Heading{Kind: store.NodeAttachment, Label: "", Title: "Vedlegg", Depth: 1})

	assert.Equal(t, "vedlegg:1", key)
}

func TestSplitHeading(t *testing.T) {
	label, title := splitHeading(store.NodeChapter, "Kapittel 2. Avtalen")
	assert.Equal(t, "2", label)
	assert.Equal(t, "Avtalen", title)

	label, title = splitHeading(store.NodeChapter, "Kap. 9 Opphør")
	assert.Equal(t, "9", label)
	assert.Equal(t, "Opphør", title)

	label, title = splitHeading(store.NodePart, "Del I. Innledende bestemmelser")
	assert.Equal(t, "I", label)
	assert.Equal(t, "Innledende bestemmelser", title)

	// Unrecognized pattern: all title, label left to the builder
	label, title = splitHeading(store.NodeChapter, "Overgangsregler")
	assert.Empty(t, label)
	assert.Equal(t, "Overgangsregler", title)
}

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"LOV-1992-07-03-93":      "lov/1992-07-03-93",
		"FOR-2017-06-19-840":     "forskrift/2017-06-19-840",
		"NL/lov/1992-07-03-93":   "lov/1992-07-03-93",
		"lov/1992-07-03-93":      "lov/1992-07-03-93",
		"LOV/1992-07-03-93":      "lov/1992-07-03-93",
		"LOV-1687-04-15":         "lov/1687-04-15", // oldest laws have no serial
		"forskrift/2017-06-19-840": "forskrift/2017-06-19-840",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeID(input), "input %q", input)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("sju tegn"))
	assert.Equal(t, 100, EstimateTokens(stringOfLen(350)))
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("Leieavtalen kan sies opp med tre måneders varsel.")
	b := Fingerprint("Leieavtalen kan sies opp med tre måneders varsel.")
	c := Fingerprint("Leieavtalen kan sies opp med én måneds varsel.")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestIsAmendmentTitle(t *testing.T) {
	amendments := []string{
		"Lov om endring i husleieloven",
		"Lov om endringer i straffeloven og straffeprosessloven",
		"Endringslov til arbeidsmiljøloven",
		"Forskrift om endr. i byggesaksforskriften",
	}
	for _, title := range amendments {
		assert.True(t, IsAmendmentTitle(title), "title %q", title)
	}

	assert.False(t, IsAmendmentTitle("Lov om husleieavtaler (husleieloven)"))
	assert.False(t, IsAmendmentTitle("Lov om behandlingsmåten i forvaltningssaker"))
}

func TestDataset_CategoryAndArchive(t *testing.T) {
	assert.Equal(t, CategoryLaw, DatasetLaws.Category())
	assert.Equal(t, CategoryRegulation, DatasetRegulations.Category())
	assert.Equal(t, "gjeldende-lover.tar.bz2", DatasetLaws.ArchiveFile())
	assert.Equal(t, "gjeldende-sentrale-forskrifter.tar.bz2", DatasetRegulations.ArchiveFile())
}

func TestStructureNodeKey(t *testing.T) {
	n := &StructureNode{Kind: NodeChapter, Label: "2"}
	assert.Equal(t, "kapittel:2", n.Key())
}

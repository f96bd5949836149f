package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery_PlainTerms(t *testing.T) {
	q := ParseQuery("oppsigelse husleie")

	assert.Equal(t, []string{"oppsigelse", "husleie"}, q.Terms)
	assert.False(t, q.HasOperators())
	assert.False(t, q.Empty())
}

func TestParseQuery_Phrase(t *testing.T) {
	q := ParseQuery(`"daglig leder" ansvar`)

	assert.Equal(t, []string{"daglig leder"}, q.Phrases)
	assert.Equal(t, []string{"ansvar"}, q.Terms)
	assert.True(t, q.HasOperators())
}

func TestParseQuery_UnbalancedQuoteClosesAtEnd(t *testing.T) {
	q := ParseQuery(`"daglig leder`)

	assert.Equal(t, []string{"daglig leder"}, q.Phrases)
	assert.Empty(t, q.Terms)
}

func TestParseQuery_Exclusion(t *testing.T) {
	q := ParseQuery("husleie -oppsigelse")

	assert.Equal(t, []string{"husleie"}, q.Terms)
	assert.Equal(t, []string{"oppsigelse"}, q.Excluded)
	assert.True(t, q.HasOperators())
}

func TestParseQuery_OR(t *testing.T) {
	q := ParseQuery("husleie OR leieavtale")

	assert.True(t, q.HasOR)
	assert.Equal(t, []string{"husleie", "leieavtale"}, q.Terms)
}

func TestParseQuery_LoneHyphenIsATerm(t *testing.T) {
	// A bare "-" carries no excluded term and must not vanish silently.
	q := ParseQuery("- husleie")

	assert.Equal(t, []string{"-", "husleie"}, q.Terms)
	assert.Empty(t, q.Excluded)
}

func TestParseQuery_Empty(t *testing.T) {
	assert.True(t, ParseQuery("").Empty())
	assert.True(t, ParseQuery("   ").Empty())
	assert.True(t, ParseQuery("-bare -utelukkelser").Empty())
}

func TestToFTS5_QuotesTerms(t *testing.T) {
	q := ParseQuery("husleie oppsigelse")

	assert.Equal(t, `"husleie" "oppsigelse"`, q.ToFTS5())
}

func TestToFTS5_HyphenatedTermStaysLiteral(t *testing.T) {
	// FTS5 would read an unquoted hyphen as column syntax.
	q := ParseQuery("covid-19")

	assert.Equal(t, `"covid-19"`, q.ToFTS5())
}

func TestToFTS5_Exclusion(t *testing.T) {
	q := ParseQuery("husleie -depositum")

	assert.Equal(t, `"husleie" NOT "depositum"`, q.ToFTS5())
}

func TestToFTS5_PreservesORStructure(t *testing.T) {
	q := ParseQuery("husleie OR leieavtale")

	assert.Equal(t, `"husleie" OR "leieavtale"`, q.ToFTS5())
}

func TestFTS5Quote_EscapesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `"sa ""sitat"" her"`, fts5Quote(`sa "sitat" her`))
}

func TestOrVariant_RewritesPlainTerms(t *testing.T) {
	q := ParseQuery("husleie oppsigelse frist")

	or := q.OrVariant()
	require.NotNil(t, or)
	assert.True(t, or.HasOR)
	assert.Equal(t, "husleie OR oppsigelse OR frist", or.Raw())
}

func TestOrVariant_NilForOperatorQueries(t *testing.T) {
	assert.Nil(t, ParseQuery(`"daglig leder" ansvar`).OrVariant())
	assert.Nil(t, ParseQuery("husleie -depositum").OrVariant())
	assert.Nil(t, ParseQuery("a OR b").OrVariant())
}

func TestOrVariant_NilForSingleTerm(t *testing.T) {
	assert.Nil(t, ParseQuery("husleie").OrVariant())
}

func TestToFTS5_PhraseWithORKeepsAdjacency(t *testing.T) {
	q := ParseQuery(`"daglig leder" OR styreleder`)
	assert.Equal(t, `"daglig leder" OR "styreleder"`, q.ToFTS5())
}

func TestToFTS5_ORBetweenPhrases(t *testing.T) {
	q := ParseQuery(`"tre måneder" OR "seks måneder"`)
	assert.Equal(t, `"tre måneder" OR "seks måneder"`, q.ToFTS5())
}

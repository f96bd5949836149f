package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortSectionInfos_PrintOrder(t *testing.T) {
	infos := []*SectionInfo{
		{SectionID: "10"},
		{SectionID: "1a"},
		{SectionID: "2"},
		{SectionID: "1-2"},
		{SectionID: "1"},
		{SectionID: "9-5"},
		{SectionID: "1-10"},
	}

	sortSectionInfos(infos)

	got := make([]string, len(infos))
	for i, info := range infos {
		got[i] = info.SectionID
	}
	assert.Equal(t, []string{"1", "1-2", "1-10", "1a", "2", "9-5", "10"}, got)
}

func TestSectionLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2", "10", true},
		{"1a", "1b", true},
		{"1", "1a", true},
		{"9-5", "21-2", true},
		{"3-1", "3-2", true},
		{"overskrift", "1", false},
		{"1", "overskrift", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, sectionLess(tc.a, tc.b), "%s < %s", tc.a, tc.b)
	}
}

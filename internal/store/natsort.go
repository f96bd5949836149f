package store

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Section labels list in print order (1, 1a, 1-2, 2, 10), not in the
// order an incremental sync happened to insert them.

var labelPartRE = regexp.MustCompile(`^(\d+)\s*([a-zA-Z]?)$`)

type labelPart struct {
	num   int
	alpha string
	text  string
	isNum bool
}

func splitLabel(id string) []labelPart {
	parts := strings.Split(strings.ReplaceAll(id, "-", "."), ".")
	out := make([]labelPart, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if m := labelPartRE.FindStringSubmatch(p); m != nil {
			n, _ := strconv.Atoi(m[1])
			out = append(out, labelPart{num: n, alpha: strings.ToLower(m[2]), isNum: true})
		} else {
			out = append(out, labelPart{text: strings.ToLower(p)})
		}
	}
	return out
}

// sectionLess compares two section labels part by part. Numeric parts
// compare as numbers with a letter suffix as tie-break; non-numeric
// parts sort after numeric ones and compare as text.
func sectionLess(a, b string) bool {
	pa, pb := splitLabel(a), splitLabel(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		x, y := pa[i], pb[i]
		switch {
		case x.isNum && !y.isNum:
			return true
		case !x.isNum && y.isNum:
			return false
		case x.isNum:
			if x.num != y.num {
				return x.num < y.num
			}
			if x.alpha != y.alpha {
				return x.alpha < y.alpha
			}
		default:
			if x.text != y.text {
				return x.text < y.text
			}
		}
	}
	return len(pa) < len(pb)
}

func sortSectionInfos(infos []*SectionInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		return sectionLess(infos[i].SectionID, infos[j].SectionID)
	})
}

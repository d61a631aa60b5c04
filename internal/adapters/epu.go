package adapters

import (
	"regexp"
	"sort"
)

var (
	gridSquareRe = regexp.MustCompile(`GridSquare_(\d+)`)
	foilHoleRe   = regexp.MustCompile(`FoilHole_(\d+)`)
)

// epuIDs extracts the EPU grid-square and foil-hole ids from a movie or
// micrograph file name. Missing components are empty.
func epuIDs(name string) (gsID, fhID string) {
	if m := gridSquareRe.FindStringSubmatch(name); m != nil {
		gsID = m[1]
	}
	if m := foilHoleRe.FindStringSubmatch(name); m != nil {
		fhID = m[1]
	}
	return
}

// groupGridSquares folds micrograph names into per-grid-square aggregates,
// ordered by grid-square id. Names without an EPU grid-square component are
// skipped.
func groupGridSquares(names []string) []GridSquare {
	byID := make(map[string]*GridSquare)
	for _, name := range names {
		gsID, _ := epuIDs(name)
		if gsID == "" {
			continue
		}
		gs := byID[gsID]
		if gs == nil {
			gs = &GridSquare{ID: gsID}
			byID[gsID] = gs
		}
		gs.Micrographs = append(gs.Micrographs, name)
	}
	out := make([]GridSquare, 0, len(byID))
	for _, gs := range byID {
		out = append(out, *gs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

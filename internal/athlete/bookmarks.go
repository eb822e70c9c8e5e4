package athlete

import (
	"fmt"
)

// Bookmarks maps a Peloton fitness discipline (cycling, yoga, ...) to the
// class type IDs the athlete wants recommended for each effort level.
type Bookmarks map[string]map[Effort][]string

// Validate checks the mapping's shape: unknown effort keys and empty
// discipline or class type IDs are rejected. Discipline names are matched
// against the class catalog at the HTTP boundary, where the catalog is
// reachable.
func (b Bookmarks) Validate() error {
	for discipline, efforts := range b {
		if discipline == "" {
			return fmt.Errorf("empty fitness discipline")
		}
		for effort, classTypeIDs := range efforts {
			if !effort.Valid() {
				return fmt.Errorf("discipline %s: unknown effort %q", discipline, effort)
			}
			for _, id := range classTypeIDs {
				if id == "" {
					return fmt.Errorf("discipline %s, effort %s: empty class type id", discipline, effort)
				}
			}
		}
	}
	return nil
}

// ClassTypesFor returns the bookmarked class type IDs for a discipline and
// effort, or nil when nothing is bookmarked.
func (b Bookmarks) ClassTypesFor(discipline string, effort Effort) []string {
	efforts, ok := b[discipline]
	if !ok {
		return nil
	}
	return efforts[effort]
}

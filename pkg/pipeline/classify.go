package pipeline

import (
	"regexp"

	"github.com/frostline/updated/pkg/catalog"
)

// categoryRegexes maps top-level archive folders to categories. The
// table is ordered from the highest category index down so that
// texture- and OS-specific folders are claimed before the coarser
// desktop, mobile and general ones. Each pattern anchors at the archive
// root and captures the remaining relative path.
var categoryRegexes = buildCategoryRegexes()

type categoryRegex struct {
	category catalog.Category
	re       *regexp.Regexp
}

func buildCategoryRegexes() []categoryRegex {
	out := make([]categoryRegex, 0, int(catalog.CategoryASTC)+1)
	for c := catalog.CategoryASTC; c >= catalog.CategoryGeneral; c-- {
		out = append(out, categoryRegex{
			category: c,
			re:       regexp.MustCompile(`^` + c.Folder() + `/(.+)$`),
		})
	}
	return out
}

// Classify matches an archive-relative path (forward slashes) against
// the category table. First match wins; unmatched paths are dropped by
// the caller. The returned localPath is the path below the category
// root, the manifest dedup key.
func Classify(relPath string) (category catalog.Category, localPath string, ok bool) {
	for _, cr := range categoryRegexes {
		if m := cr.re.FindStringSubmatch(relPath); m != nil {
			return cr.category, m[1], true
		}
	}
	return 0, "", false
}

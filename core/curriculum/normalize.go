package curriculum

import "strings"

// Bullet encodings found in legacy topic names. All of them are read as the intended bullet.
const (
	bullet            = "\u2022"             // •
	bulletSolid       = "\u25cf"             // ●
	bulletPlaceholder = "\ufffd"             // replacement character left by a lossy import
	bulletMojibake    = "\u00e2\u20ac\u00a2" // UTF-8 bullet read as Windows-1252
)

var (
	bulletReplacer = strings.NewReplacer(
		bulletMojibake, bullet,
		bulletPlaceholder, bullet,
		bulletSolid, bullet,
	)
	bulletGlyphs = []string{bullet, bulletSolid, bulletPlaceholder, bulletMojibake}
)

// collapseSpaces trims s and folds every whitespace run into a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeName is the identity form of a topic name: bullets unified, whitespace collapsed
// and a single leading bullet or hyphen marker removed.
func normalizeName(name string) string {
	s := collapseSpaces(bulletReplacer.Replace(name))
	switch {
	case strings.HasPrefix(s, bullet):
		s = strings.TrimSpace(strings.TrimPrefix(s, bullet))
	case strings.HasPrefix(s, "-"):
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	return s
}

// nameVariants lists the raw spellings a production row may carry for name.
// The first entry is the collapsed name itself.
func nameVariants(name string) []string {
	trimmed := collapseSpaces(name)
	norm := normalizeName(name)

	seen := make(map[string]struct{}, 12)
	variants := make([]string, 0, 12)
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}

	add(trimmed)
	add(norm)
	for _, g := range bulletGlyphs {
		if strings.Contains(norm, bullet) {
			add(strings.ReplaceAll(norm, bullet, g))
		}
		add(g + " " + norm)
	}
	add("- " + norm)
	return variants
}

type levelName struct {
	level int
	name  string
}

func levelNameKey(level int, name string) levelName {
	return levelName{level: level, name: normalizeName(name)}
}

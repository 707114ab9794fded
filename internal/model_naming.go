package internal

import (
	"strconv"
	"strings"
	"unicode"
)

// Initialisms kept upper case in generated identifiers.
var commonInitialisms = map[string]bool{
	"api": true, "doi": true, "id": true, "url": true, "uri": true,
	"uuid": true, "json": true, "xml": true, "http": true, "https": true, "isbn": true,
	"iso": true, "ddi": true, "sdmx": true, "html": true, "csv": true, "ip": true,
}

// pascalCase converts a schema name or JSON property into an exported Go identifier.
// Existing camel case inside a word is preserved: "nameType" becomes "NameType".
func pascalCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, w := range words {
		if commonInitialisms[strings.ToLower(w)] {
			b.WriteString(strings.ToUpper(w))
			continue
		}
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	out := b.String()
	if out != "" && unicode.IsDigit([]rune(out)[0]) {
		out = "N" + out
	}
	return out
}

// snakeCase converts a schema name into a file name stem.
func snakeCase(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// nameSet hands out identifiers that are unique within one scope.
type nameSet map[string]bool

// claim returns base, or base with the lowest numeric suffix that is still free.
func (n nameSet) claim(base string) string {
	if !n[base] {
		n[base] = true
		return base
	}
	for i := 2; ; i++ {
		candidate := base + strconv.Itoa(i)
		if !n[candidate] {
			n[candidate] = true
			return candidate
		}
	}
}

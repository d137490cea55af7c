package storage

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes the LIKE wildcards in a user-supplied search term so it
// matches literally. Both backends use backslash as the escape character.
func escapeLike(term string) string {
	return likeEscaper.Replace(strings.TrimSpace(term))
}

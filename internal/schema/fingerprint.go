package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint returns a content hash over the table and column names of info.
// Two schemas with the same shape produce the same fingerprint regardless of
// map iteration order; any added, removed, or renamed table or column changes
// it. Prompt-cache entries are keyed on this so they expire when the schema
// shape does.
func Fingerprint(info Info) string {
	var b strings.Builder
	for _, name := range info.TableNames() {
		b.WriteString(name)
		b.WriteString("(")
		cols := make([]string, 0, len(info[name].Columns))
		for _, c := range info[name].Columns {
			cols = append(cols, c.Name)
		}
		// Column order is part of the introspected shape, but the hash must
		// not depend on it.
		sort.Strings(cols)
		b.WriteString(strings.Join(cols, ","))
		b.WriteString(");")
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

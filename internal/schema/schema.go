// Package schema provides database schema introspection, descriptive-text
// generation for embeddings, schema fingerprinting, and the relevance
// selector that reduces a full schema to the tables plausibly needed by a
// natural-language query.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Column describes one column of an introspected table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

// ForeignKey describes one outgoing foreign-key reference.
type ForeignKey struct {
	Column        string
	ForeignTable  string
	ForeignColumn string
}

// Table describes one introspected table.
type Table struct {
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Info maps table names to their structure. It is the unit passed between
// introspection, relevance selection, and prompt assembly.
type Info map[string]Table

// TableNames returns the table names of info in sorted order.
func (info Info) TableNames() []string {
	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DescribeTable renders a table's structure as one line of prose. The text is
// what gets embedded for relevance selection, so it packs the name, columns,
// and relationships into a form an embedding model scores well on.
func DescribeTable(name string, t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s. ", name)

	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, fmt.Sprintf("Column: %s (%s)", c.Name, c.Type))
	}
	b.WriteString(strings.Join(cols, " "))

	for _, fk := range t.ForeignKeys {
		fmt.Fprintf(&b, " Foreign key: %s references %s.%s.", fk.Column, fk.ForeignTable, fk.ForeignColumn)
	}
	return b.String()
}

// Format renders info as the schema block included in LLM prompts. Tables
// appear in sorted order so the output is deterministic for a given schema.
func Format(info Info) string {
	var b strings.Builder
	b.WriteString("DATABASE SCHEMA:\n\n")

	for _, name := range info.TableNames() {
		t := info[name]
		fmt.Fprintf(&b, "Table: %s\n", name)
		b.WriteString("Columns:\n")
		for _, c := range t.Columns {
			nullable := "NOT NULL"
			if c.Nullable {
				nullable = "NULL"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s)\n", c.Name, c.Type, nullable)
		}
		if len(t.ForeignKeys) > 0 {
			b.WriteString("Foreign Keys:\n")
			for _, fk := range t.ForeignKeys {
				fmt.Fprintf(&b, "  - %s -> %s.%s\n", fk.Column, fk.ForeignTable, fk.ForeignColumn)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Subset returns the portion of info restricted to the named tables. Unknown
// names are ignored.
func (info Info) Subset(tables []string) Info {
	out := make(Info, len(tables))
	for _, name := range tables {
		if t, ok := info[name]; ok {
			out[name] = t
		}
	}
	return out
}

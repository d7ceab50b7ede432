package mapper

import (
	"bufio"
	"io"
	"strings"
)

// WriteScript writes the DDL of an expanded document as a SQL script
// section headed by name.
func WriteScript(w io.Writer, name string, doc *Document) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("-- " + name + "\n")
	for _, ddl := range doc.Schema {
		bw.WriteString(strings.TrimRight(strings.TrimSpace(ddl), ";") + ";\n")
	}
	for _, ddl := range doc.ExtendSchema {
		bw.WriteString(strings.TrimRight(strings.TrimSpace(ddl), ";") + ";\n")
	}
	bw.WriteString("\n")
	return bw.Flush()
}

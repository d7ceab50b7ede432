package mapper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnresolvedVariable is returned when a ${NAME} variable has no value.
var ErrUnresolvedVariable = errors.New("unresolved variable")

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand returns a copy of doc with every ${NAME} replaced from vars.
func Expand(doc *Document, vars map[string]string) (*Document, error) {
	out := &Document{Statements: make(map[string]Statement, len(doc.Statements))}

	var err error
	if out.Schema, err = expandAll(doc.Schema, vars); err != nil {
		return nil, err
	}
	if out.ExtendSchema, err = expandAll(doc.ExtendSchema, vars); err != nil {
		return nil, err
	}
	for name, stmt := range doc.Statements {
		sql, err := expandString(stmt.SQL, vars)
		if err != nil {
			return nil, fmt.Errorf("statement %s: %w", name, err)
		}
		out.Statements[name] = Statement{Command: stmt.Command, SQL: sql}
	}
	return out, nil
}

func expandAll(in []string, vars map[string]string) ([]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		expanded, err := expandString(s, vars)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}

func expandString(s string, vars map[string]string) (string, error) {
	var missing []string
	expanded := variablePattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: ${%s}", ErrUnresolvedVariable, strings.Join(missing, "}, ${"))
	}
	return expanded, nil
}

// Merge returns base extended with ext. ext may add schema and statements
// but may not redefine a statement base already has.
func Merge(base, ext *Document) (*Document, error) {
	out := &Document{
		Schema:       append(append([]string(nil), base.Schema...), ext.Schema...),
		ExtendSchema: append(append([]string(nil), base.ExtendSchema...), ext.ExtendSchema...),
		Statements:   make(map[string]Statement, len(base.Statements)+len(ext.Statements)),
	}
	for name, stmt := range base.Statements {
		out.Statements[name] = stmt
	}
	for name, stmt := range ext.Statements {
		if _, exists := out.Statements[name]; exists {
			return nil, fmt.Errorf("statement %s redefines a template statement", name)
		}
		out.Statements[name] = stmt
	}
	return out, nil
}

// TemplatePrefix splits an access type name built on a template into its
// prefix: TemplatePrefix("RawContentRepositoryDAO", "ContentRepositoryDAO")
// returns "Raw", true.
func TemplatePrefix(name, template string) (string, bool) {
	if !strings.HasSuffix(name, template) || len(name) == len(template) {
		return "", false
	}
	return strings.TrimSuffix(name, template), true
}

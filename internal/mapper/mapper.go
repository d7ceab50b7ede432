// Package mapper parses the YAML documents that describe a data access
// type: the DDL that creates its tables and the named statements its
// accessor executes.
//
// A document looks like:
//
//	schema:
//	  - CREATE TABLE IF NOT EXISTS widget (id ${UUID_TYPE} PRIMARY KEY, attributes ${JSON_TYPE})
//	statements:
//	  create:
//	    command: insert
//	    sql: >-
//	      INSERT INTO widget (id, attributes) VALUES (#{id}, #{attributes})
//	  read:
//	    command: select
//	    sql: >-
//	      SELECT * FROM widget WHERE id = #{value}
//
// Documents are checked against an embedded CUE definition before use.
// ${NAME} variables are substituted at registration time and #{path}
// parameters are compiled to driver bind markers.
package mapper

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Command classifies a statement.
type Command string

const (
	Select Command = "select"
	Insert Command = "insert"
	Update Command = "update"
	Delete Command = "delete"
)

// Mutating reports whether the command changes data.
func (c Command) Mutating() bool {
	return c != Select
}

// Statement is one named statement.
type Statement struct {
	Command Command `yaml:"command"`
	SQL     string  `yaml:"sql"`
}

// Document is a parsed mapper document.
type Document struct {
	// Schema holds DDL run when the access type is registered.
	Schema []string `yaml:"schema,omitempty"`

	// ExtendSchema holds DDL run after Schema, typically indexes or
	// columns added by a later version.
	ExtendSchema []string `yaml:"extendSchema,omitempty"`

	Statements map[string]Statement `yaml:"statements,omitempty"`
}

// StatementNames returns the statement names, sorted.
func (d *Document) StatementNames() []string {
	names := make([]string, 0, len(d.Statements))
	for name := range d.Statements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse decodes and validates a mapper document.
func Parse(src []byte) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(src))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse mapper YAML: %w", err)
	}
	if err := validate(src); err != nil {
		return nil, fmt.Errorf("invalid mapper: %w", err)
	}
	if err := checkTruncated(src); err != nil {
		return nil, fmt.Errorf("invalid mapper: %w", err)
	}
	if doc.Statements == nil {
		doc.Statements = make(map[string]Statement)
	}
	return &doc, nil
}

// validate checks the raw document against the #Mapper definition.
func validate(src []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("empty document")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling mapper schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Mapper"))

	value := def.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// checkTruncated rejects sql values cut short by a YAML comment: in a plain
// scalar " #{" starts a comment, so the parameter never reaches the SQL.
func checkTruncated(src []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return err
	}
	if len(root.Content) == 0 {
		return nil
	}
	statements := mappingValue(root.Content[0], "statements")
	if statements == nil || statements.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(statements.Content); i += 2 {
		name, body := statements.Content[i].Value, statements.Content[i+1]
		if body.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key, value := body.Content[j], body.Content[j+1]
			if key.Value != "sql" {
				continue
			}
			if isParamComment(key.LineComment) || isParamComment(value.LineComment) || isParamComment(value.FootComment) {
				return fmt.Errorf("statement %s: sql parameter read as a YAML comment, use a block scalar or quote the value", name)
			}
		}
	}
	return nil
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func isParamComment(c string) bool {
	return strings.HasPrefix(strings.TrimSpace(c), "#{")
}

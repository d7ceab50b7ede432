package mapper

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contentTemplate = `
schema:
  - >-
    CREATE TABLE IF NOT EXISTS ${format}_content_repository (
    id ${UUID_TYPE} NOT NULL,
    config_repository_id ${UUID_TYPE} NOT NULL,
    attributes ${JSON_TYPE} NOT NULL,
    CONSTRAINT pk_${format}_content_repository_id PRIMARY KEY (id))
extendSchema:
  - CREATE UNIQUE INDEX IF NOT EXISTS uk_${format}_content_repository_config ON ${format}_content_repository (config_repository_id)
statements:
  create:
    command: insert
    sql: >-
      INSERT INTO ${format}_content_repository (id, config_repository_id, attributes) VALUES (#{id}, #{configRepositoryID}, #{attributes})
  read:
    command: select
    sql: >-
      SELECT * FROM ${format}_content_repository WHERE id = #{value}
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(contentTemplate))
	require.NoError(t, err)

	assert.Len(t, doc.Schema, 1)
	assert.Len(t, doc.ExtendSchema, 1)
	assert.Equal(t, []string{"create", "read"}, doc.StatementNames())
	assert.Equal(t, Insert, doc.Statements["create"].Command)
	assert.True(t, doc.Statements["create"].Command.Mutating())
	assert.False(t, doc.Statements["read"].Command.Mutating())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", "schemas:\n  - CREATE TABLE t (id INT)\n"},
		{"unknown command", "statements:\n  read:\n    command: upsert\n    sql: SELECT 1\n"},
		{"empty sql", "statements:\n  read:\n    command: select\n    sql: \"  \"\n"},
		{"missing command", "statements:\n  read:\n    sql: SELECT 1\n"},
		{"empty document", ""},
		{"parameter read as comment", "statements:\n  read:\n    command: select\n    sql: SELECT * FROM t WHERE id = #{value}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestParse_KeepsParameters(t *testing.T) {
	sources := map[string]string{
		"block":  "statements:\n  read:\n    command: select\n    sql: >-\n      SELECT * FROM t WHERE id = #{value}\n",
		"quoted": "statements:\n  read:\n    command: select\n    sql: \"SELECT * FROM t WHERE id = #{value}\"\n",
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			doc, err := Parse([]byte(src))
			require.NoError(t, err)

			c, err := Compile(doc.Statements["read"].SQL, QuestionMarker)
			require.NoError(t, err)
			assert.Equal(t, "SELECT * FROM t WHERE id = ?", c.SQL)
			assert.Len(t, c.Params, 1)
		})
	}
}

func TestContentTemplate_ParameterCounts(t *testing.T) {
	doc, err := Parse([]byte(contentTemplate))
	require.NoError(t, err)

	want := map[string]int{"create": 3, "read": 1}
	for name, n := range want {
		c, err := Compile(doc.Statements[name].SQL, QuestionMarker)
		require.NoError(t, err)
		assert.Len(t, c.Params, n, name)
	}
}

func TestExpand_Unresolved(t *testing.T) {
	doc, err := Parse([]byte(contentTemplate))
	require.NoError(t, err)

	_, err = Expand(doc, map[string]string{"format": "raw"})
	require.ErrorIs(t, err, ErrUnresolvedVariable)
	assert.Contains(t, err.Error(), "${UUID_TYPE}")
}

func TestMerge(t *testing.T) {
	base, err := Parse([]byte(contentTemplate))
	require.NoError(t, err)
	ext, err := Parse([]byte("statements:\n  count:\n    command: select\n    sql: SELECT COUNT(*) FROM t\n"))
	require.NoError(t, err)

	merged, err := Merge(base, ext)
	require.NoError(t, err)
	assert.Equal(t, []string{"count", "create", "read"}, merged.StatementNames())
	assert.Len(t, base.Statements, 2, "base is not modified")

	clash, err := Parse([]byte("statements:\n  read:\n    command: select\n    sql: SELECT 1\n"))
	require.NoError(t, err)
	_, err = Merge(base, clash)
	assert.Error(t, err)
}

func TestTemplatePrefix(t *testing.T) {
	prefix, ok := TemplatePrefix("RawContentRepositoryDAO", "ContentRepositoryDAO")
	assert.True(t, ok)
	assert.Equal(t, "Raw", prefix)

	_, ok = TemplatePrefix("ContentRepositoryDAO", "ContentRepositoryDAO")
	assert.False(t, ok)
	_, ok = TemplatePrefix("SecretDAO", "ContentRepositoryDAO")
	assert.False(t, ok)
}

func TestCompile(t *testing.T) {
	sql := "UPDATE t SET attributes = #{attributes}, secret = #{secret:encrypted-string} WHERE id = #{entity.id}"

	c, err := Compile(sql, QuestionMarker)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE t SET attributes = ?, secret = ? WHERE id = ?", c.SQL)
	require.Len(t, c.Params, 3)
	assert.Equal(t, Param{Path: []string{"attributes"}}, c.Params[0])
	assert.Equal(t, Param{Path: []string{"secret"}, Handler: "encrypted-string"}, c.Params[1])
	assert.Equal(t, Param{Path: []string{"entity", "id"}}, c.Params[2])

	c, err = Compile(sql, DollarMarker)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE t SET attributes = $1, secret = $2 WHERE id = $3", c.SQL)
}

func TestCompile_Malformed(t *testing.T) {
	_, err := Compile("SELECT * FROM t WHERE id = #{id", QuestionMarker)
	assert.Error(t, err)

	_, err = Compile("SELECT * FROM t WHERE id = #{a..b}", QuestionMarker)
	assert.Error(t, err)
}

func TestWriteScript_Golden(t *testing.T) {
	doc, err := Parse([]byte(contentTemplate))
	require.NoError(t, err)

	engines := []struct {
		name string
		vars map[string]string
	}{
		{"content_repository_sqlite", map[string]string{"format": "raw", "UUID_TYPE": "CHAR(36)", "JSON_TYPE": "BLOB"}},
		{"content_repository_postgresql", map[string]string{"format": "raw", "UUID_TYPE": "UUID", "JSON_TYPE": "JSONB"}},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, e := range engines {
		t.Run(e.name, func(t *testing.T) {
			expanded, err := Expand(doc, e.vars)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, WriteScript(&buf, "RawContentRepositoryDAO", expanded))
			g.Assert(t, e.name, buf.Bytes())
		})
	}
}

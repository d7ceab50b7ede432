package datastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repostore/internal/config"
	"github.com/roach88/repostore/internal/entity"
)

func TestResolvePlaceholders_BuiltinDefaults(t *testing.T) {
	tests := []struct {
		engine string
		want   map[string]string
	}{
		{SQLite, map[string]string{UUIDType: "CHAR(36)", JSONType: "BLOB", BinaryType: "BLOB"}},
		{PostgreSQL, map[string]string{UUIDType: "UUID", JSONType: "JSONB", BinaryType: "BYTEA"}},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				got, lenient, err := resolvePlaceholders(tt.engine, &config.Store{})
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				assert.False(t, lenient)
			}
		})
	}
}

func TestResolvePlaceholders_BuiltinsIgnoreOverrides(t *testing.T) {
	cfg := &config.Store{Placeholders: map[string]string{"uuid_type.sqlite": "BINARY(16)"}}
	got, lenient, err := resolvePlaceholders(SQLite, cfg)
	require.NoError(t, err)
	assert.Equal(t, "CHAR(36)", got[UUIDType])
	assert.False(t, lenient)
}

func TestResolvePlaceholders_ConfiguredEngine(t *testing.T) {
	cfg := &config.Store{Placeholders: map[string]string{
		"uuid_type.h2":   "VARCHAR(36)",
		"json_type.h2":   "CHARACTER VARYING",
		"binary_type.h2": "BLOB",
	}}
	got, lenient, err := resolvePlaceholders("H2", cfg)
	require.NoError(t, err)
	assert.True(t, lenient)
	assert.Equal(t, "CHARACTER VARYING", got[JSONType])
}

func TestResolvePlaceholders_Failures(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{"missing", map[string]string{"uuid_type.h2": "UUID"}},
		{"injection", map[string]string{"uuid_type.h2": "UUID); DROP TABLE x; --", "json_type.h2": "CLOB", "binary_type.h2": "BLOB"}},
		{"three words", map[string]string{"uuid_type.h2": "DOUBLE PRECISION FLOAT", "json_type.h2": "CLOB", "binary_type.h2": "BLOB"}},
		{"non-numeric length", map[string]string{"uuid_type.h2": "VARCHAR(n)", "json_type.h2": "CLOB", "binary_type.h2": "BLOB"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := resolvePlaceholders("H2", &config.Store{Placeholders: tt.values})
			assert.Error(t, err)
		})
	}
}

func TestStart_UnresolvedPlaceholdersFailAtStart(t *testing.T) {
	store := newTestStore(t, WithEngine(legacyEngine()))
	err := store.Start(context.Background(), map[string]string{
		"jdbcUrl": "jdbc:h2:" + filepath.Join(t.TempDir(), "legacy.db"),
	})
	require.Error(t, err)
	assert.True(t, IsSchemaError(err))
	assert.Nil(t, store.DB(), "no pool is left open")
}

func TestLenientEngine_StoresDetachedIDs(t *testing.T) {
	store := newTestStore(t, WithEngine(legacyEngine()))
	ctx := context.Background()
	require.NoError(t, store.Start(ctx, map[string]string{
		"jdbcUrl":        "jdbc:h2:" + filepath.Join(t.TempDir(), "legacy.db"),
		"UUID_TYPE.H2":   "VARCHAR(36)",
		"JSON_TYPE.H2":   "CLOB",
		"BINARY_TYPE.H2": "BLOB",
	}))
	defer store.Stop()
	require.NoError(t, store.Register(ctx, widgetType))

	assert.Equal(t, "H2", store.EngineID())
	assert.True(t, store.Lenient())
	assert.Equal(t, "VARCHAR(36)", store.Placeholders()[UUIDType])

	w := &widget{Base: entity.Base{ID: entity.Detached("legacy-1")}, Name: "legacy", Attributes: attributes{}}
	inSession(t, store, func(s *Session) {
		require.NoError(t, widgets(t, s).Create(ctx, w))
	})
	inSession(t, store, func(s *Session) {
		got, found, err := widgets(t, s).Read(ctx, entity.Detached("legacy-1"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, entity.Detached("legacy-1"), got.ID)
	})
}

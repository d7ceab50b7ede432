package datastore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/repostore/internal/codec"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"postgres unique violation", &pgconn.PgError{Code: "23505"}, ErrCodeDuplicateKey},
		{"postgres other", &pgconn.PgError{Code: "23503"}, ErrCodeDataAccess},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, ErrCodeDuplicateKey},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, ErrCodeDuplicateKey},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, ErrCodeDataAccess},
		{"codec", fmt.Errorf("bind: %w", &codec.Error{Handler: "json", Op: "decode", Err: errors.New("bad")}), ErrCodeCodec},
		{"other", errors.New("connection reset"), ErrCodeDataAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate("WidgetDAO.create", tt.err)
			assert.Equal(t, tt.want, CodeOf(err))
			assert.ErrorIs(t, err, tt.err, "cause is preserved")
		})
	}
}

func TestTranslate_PassesThroughOwnErrors(t *testing.T) {
	frozen := &FrozenError{Store: "config", Statement: "WidgetDAO.create"}
	assert.Same(t, frozen, translate("x", frozen))

	session := newError(ErrCodeSession, "", "closed")
	assert.Same(t, session, translate("x", session))

	assert.NoError(t, translate("x", nil))
}

func TestErrorHelpers(t *testing.T) {
	frozen := fmt.Errorf("wrapped: %w", &FrozenError{Store: "config", Statement: "WidgetDAO.create"})
	assert.True(t, IsFrozen(frozen))
	assert.False(t, IsDataAccess(frozen))
	assert.Equal(t, ErrorCode(""), CodeOf(frozen))
	assert.Contains(t, frozen.Error(), "frozen")

	schema := &SchemaError{Store: "config", Message: "placeholder resolution failed", Err: errors.New("no UUID_TYPE")}
	assert.True(t, IsSchemaError(schema))
	assert.Contains(t, schema.Error(), "no UUID_TYPE")

	dup := translate("WidgetDAO.create", &pgconn.PgError{Code: "23505"})
	assert.True(t, IsDuplicateKey(dup))
	assert.Contains(t, dup.Error(), "statement=WidgetDAO.create")
}

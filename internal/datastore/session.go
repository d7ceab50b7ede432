package datastore

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"

	"github.com/roach88/repostore/internal/entity"
)

// Session is one unit of work: a single transaction on a single pooled
// connection. Sessions must not be shared between goroutines.
//
// Exactly one of Commit or Rollback should be called before Close. Close
// without either rolls back.
type Session struct {
	store     *DataStore
	engine    *Engine
	tx        *sql.Tx
	accessors map[string]any

	// pending holds entities given a new id by this session. Their ids are
	// cleared if the session does not commit.
	pending []entity.HasEntityID

	finished bool
	closed   bool
}

// Commit commits the session. A failed commit clears the ids assigned in
// the session.
func (s *Session) Commit() error {
	if err := s.usable(""); err != nil {
		return err
	}
	s.finished = true
	if err := s.tx.Commit(); err != nil {
		s.resetIDs()
		return translate("", err)
	}
	s.pending = nil
	return nil
}

// Rollback rolls the session back and clears the ids assigned in it.
func (s *Session) Rollback() error {
	if err := s.usable(""); err != nil {
		return err
	}
	s.finished = true
	s.resetIDs()
	if err := s.tx.Rollback(); err != nil {
		return translate("", err)
	}
	return nil
}

// Close releases the session, rolling back if it was neither committed nor
// rolled back. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.finished {
		return nil
	}
	s.finished = true
	s.resetIDs()
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return translate("", err)
	}
	return nil
}

func (s *Session) resetIDs() {
	for _, e := range s.pending {
		e.SetEntityID(nil)
	}
	if len(s.pending) > 0 {
		s.store.log.Debug().Int("entities", len(s.pending)).Msg("cleared ids assigned in uncommitted session")
	}
	s.pending = nil
}

func (s *Session) usable(stmt string) error {
	switch {
	case s.closed:
		return newError(ErrCodeSession, stmt, "session is closed")
	case s.finished:
		return newError(ErrCodeSession, stmt, "session already committed or rolled back")
	}
	return nil
}

// Exec runs the mutating statement with the fully qualified id stmt.
func (s *Session) Exec(ctx context.Context, stmt string, param any) (int64, error) {
	st, args, err := s.intercept(stmt, param)
	if err != nil {
		return 0, err
	}
	res, err := s.tx.ExecContext(ctx, st.sql, args...)
	if err != nil {
		return 0, translate(stmt, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, translate(stmt, err)
	}
	return n, nil
}

// SelectOne runs the statement with the fully qualified id stmt and scans
// its single row into dest. It reports false when there is no row.
func (s *Session) SelectOne(ctx context.Context, stmt string, param any, dest any) (bool, error) {
	target := reflect.ValueOf(dest)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return false, newError(ErrCodeDataAccess, stmt, "destination must be a non-nil pointer, got %T", dest)
	}

	st, args, err := s.intercept(stmt, param)
	if err != nil {
		return false, err
	}
	rows, err := s.tx.QueryContext(ctx, st.sql, args...)
	if err != nil {
		return false, translate(stmt, err)
	}
	defer rows.Close()

	sc, err := newScanner(s.store.handlers, s.engine, rows)
	if err != nil {
		return false, translate(stmt, err)
	}
	if !rows.Next() {
		return false, translate(stmt, rows.Err())
	}
	if err := sc.scan(rows, target.Elem()); err != nil {
		return false, translate(stmt, err)
	}
	if rows.Next() {
		return false, newError(ErrCodeDataAccess, stmt, "expected one row, got more")
	}
	return true, translate(stmt, rows.Err())
}

// SelectList runs the statement with the fully qualified id stmt and
// replaces the contents of the slice dest points to with its rows.
func (s *Session) SelectList(ctx context.Context, stmt string, param any, dest any) error {
	target := reflect.ValueOf(dest)
	if target.Kind() != reflect.Pointer || target.IsNil() || target.Elem().Kind() != reflect.Slice {
		return newError(ErrCodeDataAccess, stmt, "destination must be a pointer to a slice, got %T", dest)
	}

	st, args, err := s.intercept(stmt, param)
	if err != nil {
		return err
	}
	rows, err := s.tx.QueryContext(ctx, st.sql, args...)
	if err != nil {
		return translate(stmt, err)
	}
	defer rows.Close()

	sc, err := newScanner(s.store.handlers, s.engine, rows)
	if err != nil {
		return translate(stmt, err)
	}

	slice := target.Elem()
	out := reflect.MakeSlice(slice.Type(), 0, 0)
	elemType := slice.Type().Elem()
	for rows.Next() {
		elem := reflect.New(elemType).Elem()
		if err := sc.scan(rows, elem); err != nil {
			return translate(stmt, err)
		}
		out = reflect.Append(out, elem)
	}
	if err := rows.Err(); err != nil {
		return translate(stmt, err)
	}
	slice.Set(out)
	return nil
}

// boundExecutor is the Executor handed to accessors.
type boundExecutor struct {
	session   *Session
	namespace string
}

func (b *boundExecutor) qualify(stmt string) string {
	if strings.Contains(stmt, ".") {
		return stmt
	}
	return b.namespace + "." + stmt
}

func (b *boundExecutor) Exec(ctx context.Context, stmt string, param any) (int64, error) {
	return b.session.Exec(ctx, b.qualify(stmt), param)
}

func (b *boundExecutor) SelectOne(ctx context.Context, stmt string, param any, dest any) (bool, error) {
	return b.session.SelectOne(ctx, b.qualify(stmt), param, dest)
}

func (b *boundExecutor) SelectList(ctx context.Context, stmt string, param any, dest any) error {
	return b.session.SelectList(ctx, b.qualify(stmt), param, dest)
}

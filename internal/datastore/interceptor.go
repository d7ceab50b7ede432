package datastore

import (
	"reflect"

	"github.com/roach88/repostore/internal/entity"
	"github.com/roach88/repostore/internal/mapper"
)

// intercept applies the statement policy before a statement reaches the
// driver:
//   - mutating statements are rejected while the store is frozen, unless
//     their access type is immune
//   - inserts of entities without an id get a generated one
//
// It returns the statement and its bound arguments.
func (s *Session) intercept(id string, param any) (*statement, []any, error) {
	if err := s.usable(id); err != nil {
		return nil, nil, err
	}
	st, ok := s.store.lookupStatement(id)
	if !ok {
		return nil, nil, newError(ErrCodeDataAccess, id, "unknown statement")
	}

	if st.command.Mutating() && s.store.IsFrozen() && !s.store.immune(st.namespace) {
		return nil, nil, &FrozenError{Store: s.store.name, Statement: id}
	}

	if st.command == mapper.Insert {
		if err := s.assignID(param); err != nil {
			return nil, nil, translate(id, err)
		}
	}

	args, err := s.store.bind(s.engine, st, param)
	if err != nil {
		return nil, nil, translate(id, err)
	}
	return st, args, nil
}

// assignID gives param a new id when it is an entity without one. The id is
// provisional until the session commits.
func (s *Session) assignID(param any) error {
	e, ok := param.(entity.HasEntityID)
	if !ok || !s.store.generateIDs() {
		return nil
	}
	if v := reflect.ValueOf(param); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	if e.EntityID() != nil {
		return nil
	}
	if _, err := entity.Assign(s.store.idGen, e); err != nil {
		return err
	}
	s.pending = append(s.pending, e)
	return nil
}

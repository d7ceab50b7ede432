// Package security holds the data access types of the security subsystem:
// user-role mappings and the secrets store.
package security

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/repostore/internal/codec"
	"github.com/roach88/repostore/internal/datastore"
)

// DefaultSource is the source of users managed by the server itself. Their
// ids match exactly; ids from every other source match case-insensitively.
const DefaultSource = "default"

// Roles is the set of role ids granted to a user.
type Roles []string

// UserRoleMapping grants roles to a user of a given source.
type UserRoleMapping struct {
	UserID string `db:"user_id"`
	Source string `db:"source"`
	Roles  Roles  `db:"roles"`
}

const roleMappingMapper = `
schema:
  - >-
    CREATE TABLE IF NOT EXISTS user_role_mapping (
    user_id VARCHAR(200) NOT NULL,
    user_key VARCHAR(200) NOT NULL,
    source VARCHAR(200) NOT NULL,
    roles ${JSON_TYPE} NOT NULL,
    CONSTRAINT pk_user_role_mapping PRIMARY KEY (user_key, source))
extendSchema:
  - CREATE INDEX IF NOT EXISTS idx_user_role_mapping_user ON user_role_mapping (user_id)
statements:
  create:
    command: insert
    sql: >-
      INSERT INTO user_role_mapping (user_id, user_key, source, roles)
      VALUES (#{user_id}, #{user_key}, #{source}, #{roles})
  read:
    command: select
    sql: >-
      SELECT user_id, source, roles FROM user_role_mapping
      WHERE source = #{source} AND user_key = #{user_key}
  browse:
    command: select
    sql: SELECT user_id, source, roles FROM user_role_mapping ORDER BY source, user_id
  update:
    command: update
    sql: >-
      UPDATE user_role_mapping SET roles = #{roles}
      WHERE source = #{source} AND user_key = #{user_key}
  delete:
    command: delete
    sql: >-
      DELETE FROM user_role_mapping
      WHERE source = #{source} AND user_key = #{user_key}
`

// mappingKey is the parameter of every keyed statement. user_key is the
// column rows are matched and kept unique on: the id itself for the default
// source, the NFC-normalized case-folded id for every other source.
type mappingKey struct {
	UserID  string `db:"user_id"`
	UserKey string `db:"user_key"`
	Source string `db:"source"`
	Roles  Roles  `db:"roles"`
}

func keyOf(userID, source string, roles Roles) mappingKey {
	key := userID
	if source != DefaultSource {
		key = cases.Fold().String(norm.NFC.String(userID))
	}
	return mappingKey{
		UserID:  userID,
		UserKey: key,
		Source:  source,
		Roles:   roles,
	}
}

// RoleMappingDAO reads and writes user-role mappings.
type RoleMappingDAO struct {
	exec datastore.Executor
}

// RoleMappings is the user-role mapping access type.
var RoleMappings = datastore.NewAccessType("UserRoleMappingDAO", []byte(roleMappingMapper),
	func(e datastore.Executor) *RoleMappingDAO {
		return &RoleMappingDAO{exec: e}
	})

// Handlers returns the type handlers the security access types need.
func Handlers() []codec.TypeHandler {
	return []codec.TypeHandler{codec.NewJSON[Roles]()}
}

// Create stores a new mapping.
func (d *RoleMappingDAO) Create(ctx context.Context, m *UserRoleMapping) error {
	if m.Source == "" {
		return fmt.Errorf("role mapping for %q has no source", m.UserID)
	}
	_, err := d.exec.Exec(ctx, "create", keyOf(m.UserID, m.Source, nonNil(m.Roles)))
	return err
}

// Read finds the mapping of userID in source.
func (d *RoleMappingDAO) Read(ctx context.Context, userID, source string) (*UserRoleMapping, bool, error) {
	var m UserRoleMapping
	found, err := d.exec.SelectOne(ctx, "read", keyOf(userID, source, nil), &m)
	if err != nil || !found {
		return nil, found, err
	}
	return &m, true, nil
}

// Browse lists every mapping ordered by source and user id.
func (d *RoleMappingDAO) Browse(ctx context.Context) ([]*UserRoleMapping, error) {
	var out []*UserRoleMapping
	err := d.exec.SelectList(ctx, "browse", nil, &out)
	return out, err
}

// Update replaces the roles of an existing mapping. It reports false when
// no mapping matched.
func (d *RoleMappingDAO) Update(ctx context.Context, m *UserRoleMapping) (bool, error) {
	n, err := d.exec.Exec(ctx, "update", keyOf(m.UserID, m.Source, nonNil(m.Roles)))
	return n > 0, err
}

// Delete removes the mapping of userID in source.
func (d *RoleMappingDAO) Delete(ctx context.Context, userID, source string) (bool, error) {
	n, err := d.exec.Exec(ctx, "delete", keyOf(userID, source, nil))
	return n > 0, err
}

func nonNil(r Roles) Roles {
	if r == nil {
		return Roles{}
	}
	return r
}

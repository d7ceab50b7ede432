package security

import (
	"context"

	"github.com/roach88/repostore/internal/datastore"
	"github.com/roach88/repostore/internal/entity"
)

// Secret is a value encrypted at rest, such as a remote repository password.
type Secret struct {
	entity.Base
	Purpose string `db:"purpose"`
	KeyID   string `db:"key_id"`
	Value   string `db:"secret,encrypted-string"`
}

const secretMapper = `
schema:
  - >-
    CREATE TABLE IF NOT EXISTS secrets (
    id ${UUID_TYPE} NOT NULL,
    purpose VARCHAR(200) NOT NULL,
    key_id VARCHAR(100) NOT NULL,
    secret TEXT NOT NULL,
    CONSTRAINT pk_secrets_id PRIMARY KEY (id))
statements:
  create:
    command: insert
    sql: >-
      INSERT INTO secrets (id, purpose, key_id, secret)
      VALUES (#{id}, #{purpose}, #{key_id}, #{secret:encrypted-string})
  read:
    command: select
    sql: >-
      SELECT id, purpose, key_id, secret FROM secrets WHERE id = #{value}
  browseByKey:
    command: select
    sql: >-
      SELECT id, purpose, key_id, secret FROM secrets WHERE key_id = #{value} ORDER BY id
  reencrypt:
    command: update
    sql: >-
      UPDATE secrets SET key_id = #{key_id}, secret = #{secret:encrypted-string} WHERE id = #{id}
  delete:
    command: delete
    sql: >-
      DELETE FROM secrets WHERE id = #{value}
`

// SecretDAO stores secrets. Key rotation runs while the store is frozen, so
// the access type is immune to frozen mode.
type SecretDAO struct {
	exec datastore.Executor
}

// Secrets is the secrets access type.
var Secrets = datastore.NewAccessType("SecretDAO", []byte(secretMapper),
	func(e datastore.Executor) *SecretDAO {
		return &SecretDAO{exec: e}
	}, datastore.Immune())

// Create stores s, assigning its id.
func (d *SecretDAO) Create(ctx context.Context, s *Secret) error {
	_, err := d.exec.Exec(ctx, "create", s)
	return err
}

// Read finds a secret by id.
func (d *SecretDAO) Read(ctx context.Context, id entity.ID) (*Secret, bool, error) {
	var s Secret
	found, err := d.exec.SelectOne(ctx, "read", id, &s)
	if err != nil || !found {
		return nil, found, err
	}
	return &s, true, nil
}

// BrowseByKey lists the secrets last written under keyID.
func (d *SecretDAO) BrowseByKey(ctx context.Context, keyID string) ([]*Secret, error) {
	var out []*Secret
	err := d.exec.SelectList(ctx, "browseByKey", keyID, &out)
	return out, err
}

// Reencrypt rewrites the value and key id of an existing secret.
func (d *SecretDAO) Reencrypt(ctx context.Context, s *Secret) (bool, error) {
	n, err := d.exec.Exec(ctx, "reencrypt", s)
	return n > 0, err
}

// Delete removes a secret.
func (d *SecretDAO) Delete(ctx context.Context, id entity.ID) (bool, error) {
	n, err := d.exec.Exec(ctx, "delete", id)
	return n > 0, err
}

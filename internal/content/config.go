// Package content holds the data access types of content repositories.
//
// Each repository format gets its own content tables from a shared template:
// the maven format registers MavenContentRepositoryDAO over
// ContentRepositoryDAO and stores its rows in maven_content_repository.
package content

import (
	"context"

	"github.com/roach88/repostore/internal/codec"
	"github.com/roach88/repostore/internal/datastore"
	"github.com/roach88/repostore/internal/entity"
)

// Attributes are free-form nested attributes stored as a JSON document.
// String values under sensitive keys are encrypted at rest.
type Attributes map[string]any

// Configuration is a repository's configuration record, the row content
// repositories reference.
type Configuration struct {
	entity.Base
	Name       string     `db:"name"`
	Recipe     string     `db:"recipe_name"`
	Online     bool       `db:"online"`
	Attributes Attributes `db:"attributes"`
}

const configurationMapper = `
schema:
  - >-
    CREATE TABLE IF NOT EXISTS repository (
    id ${UUID_TYPE} NOT NULL,
    name VARCHAR(200) NOT NULL,
    recipe_name VARCHAR(200) NOT NULL,
    online BOOLEAN NOT NULL,
    attributes ${JSON_TYPE} NOT NULL,
    CONSTRAINT pk_repository_id PRIMARY KEY (id),
    CONSTRAINT uk_repository_name UNIQUE (name))
statements:
  create:
    command: insert
    sql: >-
      INSERT INTO repository (id, name, recipe_name, online, attributes)
      VALUES (#{id}, #{name}, #{recipe_name}, #{online}, #{attributes})
  read:
    command: select
    sql: >-
      SELECT * FROM repository WHERE id = #{value}
  readByName:
    command: select
    sql: >-
      SELECT * FROM repository WHERE name = #{value}
  browse:
    command: select
    sql: SELECT * FROM repository ORDER BY name
  update:
    command: update
    sql: >-
      UPDATE repository SET online = #{online}, attributes = #{attributes}
      WHERE id = #{id}
  delete:
    command: delete
    sql: >-
      DELETE FROM repository WHERE id = #{value}
`

// ConfigurationDAO reads and writes repository configurations.
type ConfigurationDAO struct {
	exec datastore.Executor
}

// Configurations is the repository configuration access type.
var Configurations = datastore.NewAccessType("ConfigurationDAO", []byte(configurationMapper),
	func(e datastore.Executor) *ConfigurationDAO {
		return &ConfigurationDAO{exec: e}
	})

// Handlers returns the type handlers the content access types need.
func Handlers() []codec.TypeHandler {
	return []codec.TypeHandler{codec.NewJSON[Attributes]()}
}

func (d *ConfigurationDAO) Create(ctx context.Context, c *Configuration) error {
	if c.Attributes == nil {
		c.Attributes = Attributes{}
	}
	_, err := d.exec.Exec(ctx, "create", c)
	return err
}

func (d *ConfigurationDAO) Read(ctx context.Context, id entity.ID) (*Configuration, bool, error) {
	return d.selectOne(ctx, "read", id)
}

func (d *ConfigurationDAO) ReadByName(ctx context.Context, name string) (*Configuration, bool, error) {
	return d.selectOne(ctx, "readByName", name)
}

func (d *ConfigurationDAO) Browse(ctx context.Context) ([]*Configuration, error) {
	var out []*Configuration
	err := d.exec.SelectList(ctx, "browse", nil, &out)
	return out, err
}

func (d *ConfigurationDAO) Update(ctx context.Context, c *Configuration) (bool, error) {
	n, err := d.exec.Exec(ctx, "update", c)
	return n > 0, err
}

func (d *ConfigurationDAO) Delete(ctx context.Context, id entity.ID) (bool, error) {
	n, err := d.exec.Exec(ctx, "delete", id)
	return n > 0, err
}

func (d *ConfigurationDAO) selectOne(ctx context.Context, stmt string, param any) (*Configuration, bool, error) {
	var c Configuration
	found, err := d.exec.SelectOne(ctx, stmt, param, &c)
	if err != nil || !found {
		return nil, found, err
	}
	return &c, true, nil
}

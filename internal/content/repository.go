package content

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/repostore/internal/datastore"
	"github.com/roach88/repostore/internal/entity"
)

// ContentRepository is the content-side record of a repository of one
// format. It references the repository's configuration.
type ContentRepository struct {
	entity.Base
	ConfigRepositoryID entity.ID  `db:"config_repository_id"`
	Attributes         Attributes `db:"attributes"`
	Created            time.Time  `db:"created"`
	LastUpdated        time.Time  `db:"last_updated"`
}

// ContinuationToken resumes a browse after this repository.
func (r *ContentRepository) ContinuationToken() string {
	if r.ID == nil {
		return ""
	}
	return r.ID.Value()
}

const contentRepositoryMapper = `
schema:
  - >-
    CREATE TABLE IF NOT EXISTS ${format}_content_repository (
    id ${UUID_TYPE} NOT NULL,
    config_repository_id ${UUID_TYPE} NOT NULL,
    attributes ${JSON_TYPE} NOT NULL,
    created TIMESTAMP WITH TIME ZONE NOT NULL,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL,
    CONSTRAINT pk_${format}_content_repository_id PRIMARY KEY (id),
    CONSTRAINT uk_${format}_content_repository_config UNIQUE (config_repository_id),
    CONSTRAINT fk_${format}_content_repository_config
    FOREIGN KEY (config_repository_id) REFERENCES repository (id))
statements:
  create:
    command: insert
    sql: >-
      INSERT INTO ${format}_content_repository
      (id, config_repository_id, attributes, created, last_updated)
      VALUES (#{id}, #{config_repository_id}, #{attributes}, #{created}, #{last_updated})
  read:
    command: select
    sql: >-
      SELECT * FROM ${format}_content_repository WHERE id = #{value}
  readByConfig:
    command: select
    sql: >-
      SELECT * FROM ${format}_content_repository WHERE config_repository_id = #{value}
  browse:
    command: select
    sql: >-
      SELECT * FROM ${format}_content_repository ORDER BY id LIMIT #{limit}
  browseAfter:
    command: select
    sql: >-
      SELECT * FROM ${format}_content_repository
      WHERE id > #{continuation_token} ORDER BY id LIMIT #{limit}
  update:
    command: update
    sql: >-
      UPDATE ${format}_content_repository
      SET attributes = #{attributes}, last_updated = #{last_updated}
      WHERE id = #{id}
  delete:
    command: delete
    sql: >-
      DELETE FROM ${format}_content_repository WHERE id = #{value}
`

// ContentRepositoryTemplate is shared by the content repository access types
// of every format.
var ContentRepositoryTemplate = datastore.NewTemplate("ContentRepositoryDAO", "format", []byte(contentRepositoryMapper))

var (
	formatPattern = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	byFormat      sync.Map // format -> *datastore.DAO[*ContentRepositoryDAO]
)

// RepositoryDAO returns the content repository access type of format. The
// same access type is returned for every call with the same format.
func RepositoryDAO(format string) (*datastore.DAO[*ContentRepositoryDAO], error) {
	if cached, ok := byFormat.Load(format); ok {
		return cached.(*datastore.DAO[*ContentRepositoryDAO]), nil
	}
	if !formatPattern.MatchString(format) {
		return nil, fmt.Errorf("invalid repository format %q", format)
	}
	t := datastore.NewAccessType(cases.Title(language.Und).String(format)+ContentRepositoryTemplate.Name(), nil,
		func(e datastore.Executor) *ContentRepositoryDAO {
			return &ContentRepositoryDAO{exec: e, now: time.Now}
		},
		datastore.FromTemplate(ContentRepositoryTemplate),
		datastore.Expects(Configurations),
	)
	actual, _ := byFormat.LoadOrStore(format, t)
	return actual.(*datastore.DAO[*ContentRepositoryDAO]), nil
}

// ContentRepositoryDAO reads and writes the content repositories of one
// format.
type ContentRepositoryDAO struct {
	exec datastore.Executor
	now  func() time.Time
}

type browseParams struct {
	Limit             int    `db:"limit"`
	ContinuationToken string `db:"continuation_token"`
}

// Create stores r, assigning its id and timestamps.
func (d *ContentRepositoryDAO) Create(ctx context.Context, r *ContentRepository) error {
	if r.Attributes == nil {
		r.Attributes = Attributes{}
	}
	r.Created = d.now().UTC()
	r.LastUpdated = r.Created
	_, err := d.exec.Exec(ctx, "create", r)
	return err
}

func (d *ContentRepositoryDAO) Read(ctx context.Context, id entity.ID) (*ContentRepository, bool, error) {
	return d.selectOne(ctx, "read", id)
}

// ReadByConfig finds the content repository of a repository configuration.
func (d *ContentRepositoryDAO) ReadByConfig(ctx context.Context, configID entity.ID) (*ContentRepository, bool, error) {
	return d.selectOne(ctx, "readByConfig", configID)
}

// Browse returns up to limit repositories ordered by id, resuming after
// continuationToken when it is not empty.
func (d *ContentRepositoryDAO) Browse(ctx context.Context, limit int, continuationToken string) (entity.Continuation[*ContentRepository], error) {
	stmt := "browse"
	if continuationToken != "" {
		stmt = "browseAfter"
	}
	var out entity.Continuation[*ContentRepository]
	err := d.exec.SelectList(ctx, stmt, browseParams{Limit: limit, ContinuationToken: continuationToken}, &out)
	return out, err
}

// Update replaces the attributes of r and stamps it.
func (d *ContentRepositoryDAO) Update(ctx context.Context, r *ContentRepository) (bool, error) {
	if r.Attributes == nil {
		r.Attributes = Attributes{}
	}
	r.LastUpdated = d.now().UTC()
	n, err := d.exec.Exec(ctx, "update", r)
	return n > 0, err
}

func (d *ContentRepositoryDAO) Delete(ctx context.Context, id entity.ID) (bool, error) {
	n, err := d.exec.Exec(ctx, "delete", id)
	return n > 0, err
}

func (d *ContentRepositoryDAO) selectOne(ctx context.Context, stmt string, param any) (*ContentRepository, bool, error) {
	var r ContentRepository
	found, err := d.exec.SelectOne(ctx, stmt, param, &r)
	if err != nil || !found {
		return nil, found, err
	}
	return &r, true, nil
}

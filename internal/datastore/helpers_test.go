package datastore

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repostore/internal/codec"
	"github.com/roach88/repostore/internal/config"
	"github.com/roach88/repostore/internal/entity"
	"github.com/roach88/repostore/internal/mapper"
)

type attributes map[string]any

type widget struct {
	entity.Base
	Name       string     `db:"name"`
	Attributes attributes `db:"attributes"`
}

func (w *widget) ContinuationToken() string {
	return w.Name
}

const widgetMapper = `
schema:
  - >-
    CREATE TABLE IF NOT EXISTS widget (
    id ${UUID_TYPE} NOT NULL,
    name VARCHAR(200) NOT NULL,
    attributes ${JSON_TYPE} NOT NULL,
    CONSTRAINT pk_widget_id PRIMARY KEY (id))
extendSchema:
  - CREATE UNIQUE INDEX IF NOT EXISTS uk_widget_name ON widget (name)
statements:
  create:
    command: insert
    sql: >-
      INSERT INTO widget (id, name, attributes) VALUES (#{id}, #{name}, #{attributes})
  read:
    command: select
    sql: >-
      SELECT id, name, attributes FROM widget WHERE id = #{value}
  browse:
    command: select
    sql: SELECT id, name, attributes FROM widget ORDER BY name
  count:
    command: select
    sql: SELECT COUNT(*) FROM widget
  update:
    command: update
    sql: >-
      UPDATE widget SET attributes = #{attributes} WHERE id = #{id}
  delete:
    command: delete
    sql: >-
      DELETE FROM widget WHERE id = #{value}
`

type widgetDAO struct {
	exec Executor
}

func (d *widgetDAO) Create(ctx context.Context, w *widget) error {
	_, err := d.exec.Exec(ctx, "create", w)
	return err
}

func (d *widgetDAO) Read(ctx context.Context, id entity.ID) (*widget, bool, error) {
	var w widget
	found, err := d.exec.SelectOne(ctx, "read", id, &w)
	if err != nil || !found {
		return nil, found, err
	}
	return &w, true, nil
}

func (d *widgetDAO) Browse(ctx context.Context) (entity.Continuation[*widget], error) {
	var out entity.Continuation[*widget]
	err := d.exec.SelectList(ctx, "browse", nil, &out)
	return out, err
}

func (d *widgetDAO) Update(ctx context.Context, w *widget) (bool, error) {
	n, err := d.exec.Exec(ctx, "update", w)
	return n > 0, err
}

func (d *widgetDAO) Delete(ctx context.Context, id entity.ID) (bool, error) {
	n, err := d.exec.Exec(ctx, "delete", id)
	return n > 0, err
}

var widgetType = NewAccessType("WidgetDAO", []byte(widgetMapper), func(e Executor) *widgetDAO {
	return &widgetDAO{exec: e}
})

type secret struct {
	entity.Base
	Name   string `db:"name"`
	Secret string `db:"secret,encrypted-string"`
}

const secretMapper = `
schema:
  - CREATE TABLE IF NOT EXISTS secret (id ${UUID_TYPE} NOT NULL PRIMARY KEY, name VARCHAR(100) NOT NULL, secret TEXT NOT NULL)
statements:
  create:
    command: insert
    sql: >-
      INSERT INTO secret (id, name, secret) VALUES (#{id}, #{name}, #{secret})
  readByName:
    command: select
    sql: >-
      SELECT * FROM secret WHERE name = #{value}
`

type secretDAO struct {
	exec Executor
}

func (d *secretDAO) Create(ctx context.Context, s *secret) error {
	_, err := d.exec.Exec(ctx, "create", s)
	return err
}

func (d *secretDAO) ReadByName(ctx context.Context, name string) (*secret, bool, error) {
	var s secret
	found, err := d.exec.SelectOne(ctx, "readByName", name, &s)
	return &s, found, err
}

var secretType = NewAccessType("SecretDAO", []byte(secretMapper), func(e Executor) *secretDAO {
	return &secretDAO{exec: e}
}, Immune())

func sqliteURL(t *testing.T) string {
	t.Helper()
	return "jdbc:sqlite:" + filepath.Join(t.TempDir(), "store.db")
}

func newTestStore(t *testing.T, opts ...Option) *DataStore {
	t.Helper()
	base := []Option{
		WithLogger(zerolog.New(zerolog.NewTestWriter(t))),
		WithHandlers(codec.NewJSON[attributes]()),
	}
	return New("test", append(base, opts...)...)
}

// startStore starts a store on a fresh SQLite database with the widget and
// secret access types registered.
func startStore(t *testing.T, opts ...Option) *DataStore {
	t.Helper()
	store := newTestStore(t, opts...)
	require.NoError(t, store.Start(context.Background(), map[string]string{"jdbcUrl": sqliteURL(t)}))
	t.Cleanup(func() { store.Stop() })

	ctx := context.Background()
	require.NoError(t, store.Register(ctx, widgetType))
	require.NoError(t, store.Register(ctx, secretType))
	return store
}

// inSession runs fn in a session and commits it.
func inSession(t *testing.T, store *DataStore, fn func(s *Session)) {
	t.Helper()
	s, err := store.OpenSession(context.Background())
	require.NoError(t, err)
	defer s.Close()
	fn(s)
	require.NoError(t, s.Commit())
}

func widgets(t *testing.T, s *Session) *widgetDAO {
	t.Helper()
	dao, err := Access(s, widgetType)
	require.NoError(t, err)
	return dao
}

// legacyEngine is an engine without placeholder defaults, backed by
// SQLite, standing in for engines configured entirely through
// placeholder overrides.
func legacyEngine() *Engine {
	return &Engine{
		ID:        "H2",
		Prefix:    "jdbc:h2:",
		Marker:    mapper.QuestionMarker,
		JSONBytes: true,
		Open: func(ctx context.Context, cfg *config.Store, _ zerolog.Logger) (*sql.DB, error) {
			db, err := sql.Open("sqlite3", strings.TrimPrefix(cfg.JDBCURL, "jdbc:h2:"))
			if err != nil {
				return nil, err
			}
			db.SetMaxOpenConns(1)
			return db, db.PingContext(ctx)
		},
	}
}

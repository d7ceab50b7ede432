package security

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repostore/internal/datastore"
	"github.com/roach88/repostore/internal/entity"
	"github.com/roach88/repostore/internal/mapper"
)

func startStore(t *testing.T) *datastore.DataStore {
	t.Helper()
	store := datastore.New("security",
		datastore.WithLogger(zerolog.New(zerolog.NewTestWriter(t))),
		datastore.WithHandlers(Handlers()...),
	)
	ctx := context.Background()
	require.NoError(t, store.Start(ctx, map[string]string{
		"jdbcUrl": "jdbc:sqlite:" + filepath.Join(t.TempDir(), "security.db"),
	}))
	t.Cleanup(func() { store.Stop() })
	require.NoError(t, store.Register(ctx, RoleMappings))
	require.NoError(t, store.Register(ctx, Secrets))
	return store
}

func inSession(t *testing.T, store *datastore.DataStore, fn func(s *datastore.Session)) {
	t.Helper()
	s, err := store.OpenSession(context.Background())
	require.NoError(t, err)
	defer s.Close()
	fn(s)
	require.NoError(t, s.Commit())
}

func mappings(t *testing.T, s *datastore.Session) *RoleMappingDAO {
	t.Helper()
	dao, err := datastore.Access(s, RoleMappings)
	require.NoError(t, err)
	return dao
}

func secrets(t *testing.T, s *datastore.Session) *SecretDAO {
	t.Helper()
	dao, err := datastore.Access(s, Secrets)
	require.NoError(t, err)
	return dao
}

func TestRoleMapping_CRUD(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	inSession(t, store, func(s *datastore.Session) {
		require.NoError(t, mappings(t, s).Create(ctx, &UserRoleMapping{
			UserID: "admin", Source: DefaultSource, Roles: Roles{"nx-admin"},
		}))
	})

	inSession(t, store, func(s *datastore.Session) {
		dao := mappings(t, s)
		got, found, err := dao.Read(ctx, "admin", DefaultSource)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, Roles{"nx-admin"}, got.Roles)

		updated, err := dao.Update(ctx, &UserRoleMapping{UserID: "admin", Source: DefaultSource, Roles: Roles{"nx-admin", "nx-anonymous"}})
		require.NoError(t, err)
		assert.True(t, updated)

		got, _, err = dao.Read(ctx, "admin", DefaultSource)
		require.NoError(t, err)
		assert.Equal(t, Roles{"nx-admin", "nx-anonymous"}, got.Roles)

		deleted, err := dao.Delete(ctx, "admin", DefaultSource)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, found, err = dao.Read(ctx, "admin", DefaultSource)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestRoleMapping_CaseSensitivityPerSource(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	inSession(t, store, func(s *datastore.Session) {
		dao := mappings(t, s)
		require.NoError(t, dao.Create(ctx, &UserRoleMapping{UserID: "Jane", Source: DefaultSource, Roles: Roles{"dev"}}))
		require.NoError(t, dao.Create(ctx, &UserRoleMapping{UserID: "Jane", Source: "LDAP", Roles: Roles{"ops"}}))
	})

	inSession(t, store, func(s *datastore.Session) {
		dao := mappings(t, s)

		_, found, err := dao.Read(ctx, "jane", DefaultSource)
		require.NoError(t, err)
		assert.False(t, found, "default users match exactly")

		got, found, err := dao.Read(ctx, "JANE", "LDAP")
		require.NoError(t, err)
		require.True(t, found, "other sources match case-insensitively")
		assert.Equal(t, "Jane", got.UserID)
		assert.Equal(t, Roles{"ops"}, got.Roles)

		updated, err := dao.Update(ctx, &UserRoleMapping{UserID: "jane", Source: "LDAP", Roles: Roles{"ops", "qa"}})
		require.NoError(t, err)
		assert.True(t, updated)

		updated, err = dao.Update(ctx, &UserRoleMapping{UserID: "jane", Source: DefaultSource})
		require.NoError(t, err)
		assert.False(t, updated)
	})
}

func TestRoleMapping_Browse(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	inSession(t, store, func(s *datastore.Session) {
		dao := mappings(t, s)
		require.NoError(t, dao.Create(ctx, &UserRoleMapping{UserID: "b", Source: "LDAP"}))
		require.NoError(t, dao.Create(ctx, &UserRoleMapping{UserID: "a", Source: DefaultSource, Roles: Roles{"x"}}))
	})

	inSession(t, store, func(s *datastore.Session) {
		all, err := mappings(t, s).Browse(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "LDAP", all[0].Source)
		assert.Equal(t, Roles{}, all[0].Roles)
		assert.Equal(t, DefaultSource, all[1].Source)
	})
}

func TestRoleMapping_Duplicate(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	s, err := store.OpenSession(ctx)
	require.NoError(t, err)
	defer s.Close()

	dao := mappings(t, s)
	require.NoError(t, dao.Create(ctx, &UserRoleMapping{UserID: "admin", Source: DefaultSource}))
	err = dao.Create(ctx, &UserRoleMapping{UserID: "admin", Source: DefaultSource})
	assert.True(t, datastore.IsDuplicateKey(err))
}

func TestRoleMapping_DuplicateIgnoresCaseOutsideDefault(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	s, err := store.OpenSession(ctx)
	require.NoError(t, err)
	defer s.Close()

	dao := mappings(t, s)
	require.NoError(t, dao.Create(ctx, &UserRoleMapping{UserID: "Alice", Source: DefaultSource}))
	require.NoError(t, dao.Create(ctx, &UserRoleMapping{UserID: "alice", Source: DefaultSource}))

	require.NoError(t, dao.Create(ctx, &UserRoleMapping{UserID: "Alice", Source: "LDAP", Roles: Roles{"ops"}}))
	err = dao.Create(ctx, &UserRoleMapping{UserID: "alice", Source: "LDAP"})
	assert.True(t, datastore.IsDuplicateKey(err), "got %v", err)

	got, found, err := dao.Read(ctx, "ALICE", "LDAP")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Alice", got.UserID)
}

func TestRoleMapping_RequiresSource(t *testing.T) {
	store := startStore(t)
	s, err := store.OpenSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, mappings(t, s).Create(context.Background(), &UserRoleMapping{UserID: "admin"}))
}

func TestSecrets_EncryptedAtRest(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	sec := &Secret{Purpose: "proxy", KeyID: "k1", Value: "hunter2"}
	inSession(t, store, func(s *datastore.Session) {
		require.NoError(t, secrets(t, s).Create(ctx, sec))
	})
	require.NotNil(t, sec.ID)

	var raw string
	require.NoError(t, store.DB().QueryRowContext(ctx, "SELECT secret FROM secrets").Scan(&raw))
	assert.NotContains(t, raw, "hunter2")

	inSession(t, store, func(s *datastore.Session) {
		got, found, err := secrets(t, s).Read(ctx, sec.ID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "hunter2", got.Value)
		assert.True(t, entity.Equal(sec.ID, got.ID))
	})
}

func TestSecrets_RotateWhileFrozen(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	inSession(t, store, func(s *datastore.Session) {
		require.NoError(t, secrets(t, s).Create(ctx, &Secret{Purpose: "proxy", KeyID: "k1", Value: "a"}))
		require.NoError(t, secrets(t, s).Create(ctx, &Secret{Purpose: "smtp", KeyID: "k1", Value: "b"}))
	})

	store.Freeze()
	defer store.Unfreeze()

	inSession(t, store, func(s *datastore.Session) {
		dao := secrets(t, s)
		old, err := dao.BrowseByKey(ctx, "k1")
		require.NoError(t, err)
		require.Len(t, old, 2)
		for _, sec := range old {
			sec.KeyID = "k2"
			ok, err := dao.Reencrypt(ctx, sec)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		err = mappings(t, s).Create(ctx, &UserRoleMapping{UserID: "admin", Source: DefaultSource})
		assert.True(t, datastore.IsFrozen(err), "role mappings are not immune")
	})

	inSession(t, store, func(s *datastore.Session) {
		rotated, err := secrets(t, s).BrowseByKey(ctx, "k2")
		require.NoError(t, err)
		assert.Len(t, rotated, 2)
	})
}

func TestSecrets_Delete(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	sec := &Secret{Purpose: "proxy", KeyID: "k1", Value: "a"}
	inSession(t, store, func(s *datastore.Session) {
		require.NoError(t, secrets(t, s).Create(ctx, sec))
	})
	inSession(t, store, func(s *datastore.Session) {
		ok, err := secrets(t, s).Delete(ctx, sec.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, found, err := secrets(t, s).Read(ctx, sec.ID)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestMappers_ParameterCounts(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		params map[string]int
	}{
		{"role mappings", roleMappingMapper, map[string]int{"create": 4, "read": 2, "browse": 0, "update": 3, "delete": 2}},
		{"secrets", secretMapper, map[string]int{"create": 4, "read": 1, "browseByKey": 1, "reencrypt": 3, "delete": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := mapper.Parse([]byte(tt.src))
			require.NoError(t, err)
			require.Len(t, doc.Statements, len(tt.params))

			for name, want := range tt.params {
				c, err := mapper.Compile(doc.Statements[name].SQL, mapper.QuestionMarker)
				require.NoError(t, err)
				assert.Len(t, c.Params, want, name)
			}
		})
	}
}

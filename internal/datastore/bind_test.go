package datastore

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repostore/internal/entity"
)

type owner struct {
	Login string `db:"user_id"`
}

type repo struct {
	entity.Base
	Name  string
	Owner *owner
	Extra map[string]any
	Token string `db:"token,encrypted-string"`
	skip  string
}

func TestResolvePath(t *testing.T) {
	id := entity.ParseID("0191e2a4-7c1e-7cc0-8a55-3c5a0f6b2d11")
	r := &repo{
		Base:  entity.Base{ID: id},
		Name:  "maven-central",
		Owner: &owner{Login: "admin"},
		Extra: map[string]any{"region": "eu"},
		Token: "t",
	}
	root := reflect.ValueOf(r)

	tests := []struct {
		path    []string
		want    any
		handler string
	}{
		{[]string{"id"}, id, ""},
		{[]string{"name"}, "maven-central", ""},
		{[]string{"NAME"}, "maven-central", ""},
		{[]string{"owner", "user_id"}, "admin", ""},
		{[]string{"extra", "region"}, "eu", ""},
		{[]string{"token"}, "t", "encrypted-string"},
	}
	for _, tt := range tests {
		v, handler, err := resolvePath(root, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, v.Interface(), tt.path)
		assert.Equal(t, tt.handler, handler, tt.path)
	}
}

func TestResolvePath_Scalars(t *testing.T) {
	v, _, err := resolvePath(reflect.ValueOf("maven-central"), []string{"value"})
	require.NoError(t, err)
	assert.Equal(t, "maven-central", v.Interface())

	id := entity.Detached("legacy")
	v, _, err = resolvePath(reflect.ValueOf(id), []string{"value"})
	require.NoError(t, err)
	assert.Equal(t, id, v.Interface())

	v, _, err = resolvePath(reflect.ValueOf(nil), []string{"value"})
	require.NoError(t, err)
	assert.False(t, v.IsValid(), "nil parameters bind NULL")
}

func TestResolvePath_NilIntermediate(t *testing.T) {
	v, _, err := resolvePath(reflect.ValueOf(&repo{}), []string{"owner", "user_id"})
	require.NoError(t, err)
	assert.False(t, v.IsValid())
}

func TestResolvePath_UnknownField(t *testing.T) {
	_, _, err := resolvePath(reflect.ValueOf(&repo{}), []string{"missing"})
	assert.Error(t, err)

	_, _, err = resolvePath(reflect.ValueOf(&repo{}), []string{"skip"})
	assert.Error(t, err, "unexported fields are not bound")
}

func TestStructFields(t *testing.T) {
	fields := structFields(reflect.TypeFor[repo]())

	assert.Equal(t, []int{0, 0}, fields["id"].index, "embedded fields are promoted")
	assert.Equal(t, []int{1}, fields["name"].index)
	assert.Equal(t, "encrypted-string", fields["token"].handler)
	assert.NotContains(t, fields, "skip")
}

func TestConvertAssign(t *testing.T) {
	var n int
	require.NoError(t, convertAssign(reflect.ValueOf(&n).Elem(), int64(42)))
	assert.Equal(t, 42, n)

	var b bool
	require.NoError(t, convertAssign(reflect.ValueOf(&b).Elem(), int64(1)))
	assert.True(t, b)

	var s string
	require.NoError(t, convertAssign(reflect.ValueOf(&s).Elem(), []byte("text")))
	assert.Equal(t, "text", s)

	var f float64
	require.NoError(t, convertAssign(reflect.ValueOf(&f).Elem(), "1.5"))
	assert.Equal(t, 1.5, f)

	type format string
	var fm format
	require.NoError(t, convertAssign(reflect.ValueOf(&fm).Elem(), "raw"))
	assert.Equal(t, format("raw"), fm)

	assert.Error(t, convertAssign(reflect.ValueOf(&s).Elem(), int64(65)), "integers do not become runes")
	assert.Error(t, convertAssign(reflect.ValueOf(&n).Elem(), "many"))
}

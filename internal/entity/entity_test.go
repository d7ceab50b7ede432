package entity

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Base
	Name string
}

func (w *widget) ContinuationToken() string {
	return w.Name
}

func TestParseID(t *testing.T) {
	u := uuid.New()

	id := ParseID(u.String())
	require.IsType(t, UUID{}, id)
	assert.Equal(t, u.String(), id.Value())

	id = ParseID("legacy-42")
	assert.Equal(t, Detached("legacy-42"), id)

	assert.Nil(t, ParseID(""))
}

func TestEqual(t *testing.T) {
	u := uuid.New()
	assert.True(t, Equal(NewUUID(u), ParseID(u.String())))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(NewUUID(u), nil))
	assert.False(t, Equal(Detached("a"), Detached("b")))
}

func TestUUIDv7Generator_TimeOrdered(t *testing.T) {
	gen := UUIDv7Generator{}

	first, err := gen.NewID()
	require.NoError(t, err)
	second, err := gen.NewID()
	require.NoError(t, err)

	a := first.(UUID)
	b := second.(UUID)
	assert.Equal(t, uuid.Version(7), a.Version())
	assert.Equal(t, uuid.RFC4122, a.Variant())
	assert.LessOrEqual(t, a.Value()[:13], b.Value()[:13], "timestamp prefix should not decrease")
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 20
	const perGoroutine = 500

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id, err := gen.NewID()
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[id.Value()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestAssign(t *testing.T) {
	w := &widget{Name: "w"}
	id, err := Assign(UUIDv7Generator{}, w)
	require.NoError(t, err)
	assert.Equal(t, id, w.EntityID())
}

func TestAssign_RefusesToOverwrite(t *testing.T) {
	w := &widget{Name: "w"}
	w.SetEntityID(Detached("keep-me"))

	_, err := Assign(UUIDv7Generator{}, w)
	require.ErrorIs(t, err, ErrAlreadyIdentified)
	assert.Equal(t, Detached("keep-me"), w.EntityID())
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator(Detached("a"), Detached("b"))

	a, err := gen.NewID()
	require.NoError(t, err)
	b, err := gen.NewID()
	require.NoError(t, err)
	assert.Equal(t, Detached("a"), a)
	assert.Equal(t, Detached("b"), b)

	_, err = gen.NewID()
	assert.Error(t, err)
}

func TestContinuation(t *testing.T) {
	var empty Continuation[*widget]
	assert.Equal(t, "", empty.NextContinuationToken())

	page := Continuation[*widget]{{Name: "a"}, {Name: "b"}}
	assert.Equal(t, "b", page.NextContinuationToken())
}

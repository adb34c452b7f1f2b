package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fooResource struct{ value string }

func TestResource_PushGetDelete(t *testing.T) {
	table := NewTable()

	r, err := Push(table, &fooResource{value: "noodles"})
	require.NoError(t, err)
	assert.True(t, r.Owned())

	foo, err := Get(table, r)
	require.NoError(t, err)
	assert.Equal(t, "noodles", foo.value)

	borrowed := NewBorrow[*fooResource](r.Handle())
	_, err = Delete(table, borrowed)
	assert.ErrorIs(t, err, ErrBorrowed)

	foo, err = Delete(table, r)
	require.NoError(t, err)
	assert.Equal(t, "noodles", foo.value)

	_, err = Get(table, r)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResource_TypeMismatch(t *testing.T) {
	table := NewTable()

	h, err := table.Insert("not a foo")
	require.NoError(t, err)

	_, err = Get(table, NewOwn[*fooResource](h))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Delete(table, NewOwn[*fooResource](h))
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.True(t, table.Contains(h), "failed delete leaves the entry")
}

func TestResource_Ref(t *testing.T) {
	var ref Ref = NewBorrow[*fooResource](3)
	assert.Equal(t, Handle(3), ref.Handle())
	assert.False(t, ref.Owned())

	rebuilt, ok := ref.FromHandle(9, true).(Resource[*fooResource])
	require.True(t, ok)
	assert.Equal(t, Handle(9), rebuilt.Handle())
	assert.True(t, rebuilt.Owned())
	assert.Contains(t, rebuilt.String(), "own<")
}

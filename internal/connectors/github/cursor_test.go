package github

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_EncodeDecode(t *testing.T) {
	c := NewCursor()
	repo := Repo{Owner: "acme", Name: "api"}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c.Set(repo, RepoCursor{UpdatedAt: at, Number: 42})

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, CursorVersion, decoded.Version)
	assert.True(t, decoded.Get(repo).UpdatedAt.Equal(at))
	assert.Equal(t, 42, decoded.Get(repo).Number)
}

func TestCursor_DecodeEmptyAndInvalid(t *testing.T) {
	c, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Empty(t, c.Repos)

	_, err = DecodeCursor("not base64!")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeCursor("bm90IGpzb24=") // "not json"
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCursor_CloneIsIndependent(t *testing.T) {
	c := NewCursor()
	repo := Repo{Owner: "acme", Name: "api"}
	c.Set(repo, RepoCursor{Number: 1})

	clone := c.Clone()
	clone.Set(repo, RepoCursor{Number: 2})
	assert.Equal(t, 1, c.Get(repo).Number)
}

func TestRepoCursor_After(t *testing.T) {
	mark := RepoCursor{UpdatedAt: t0, Number: 5}

	assert.True(t, mark.After(t0.Add(time.Second), 1))
	assert.True(t, mark.After(t0, 6))
	assert.False(t, mark.After(t0, 5))
	assert.False(t, mark.After(t0, 4))
	assert.False(t, mark.After(t0.Add(-time.Second), 9))
	assert.True(t, RepoCursor{}.After(t0, 0))
}

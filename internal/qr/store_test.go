package qr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("a")
	assert.False(t, ok)

	buf := []byte("first")
	s.Put("a", buf)
	buf[0] = 'X'

	got, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("first"), got, "stored copy must not alias caller buffer")

	s.Put("a", []byte("second"))
	got, _ = s.Get("a")
	assert.Equal(t, []byte("second"), got)
	assert.Equal(t, 1, s.Len())

	s.Clear("a")
	_, ok = s.Get("a")
	assert.False(t, ok)

	s.Clear("missing")
	assert.Equal(t, 0, s.Len())
}

package sink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	writes [][]byte
	failOn int
	calls  int
}

func (r *recordingSink) Write(p []byte) (int, error) {
	r.calls++
	if r.failOn != 0 && r.calls == r.failOn {
		return 0, errors.New("boom")
	}
	r.writes = append(r.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (r *recordingSink) Flush() error { return nil }

func TestMultiWritesToEachSinkInOrder(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := NewMulti(a, b)

	n, err := m.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, [][]byte{[]byte("hello")}, a.writes)
	assert.Equal(t, [][]byte{[]byte("hello")}, b.writes)
}

func TestMultiShortCircuitsOnFirstError(t *testing.T) {
	a := &recordingSink{failOn: 1}
	b := &recordingSink{}
	m := NewMulti(a, b)

	_, err := m.Write([]byte("hello"))
	require.Error(t, err)
	assert.Empty(t, b.writes)
}

func TestMultiSkipsNilSinks(t *testing.T) {
	a := &recordingSink{}
	m := NewMulti(a, nil)
	assert.Equal(t, 1, m.Len())
}

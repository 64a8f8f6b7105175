package progress

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonicNeverDecreases(t *testing.T) {
	var seen []int
	m := NewMonotonic(Func(func(p int, _ string) { seen = append(seen, p) }))

	for _, p := range []int{10, 30, 25, 32, 120, 80, -5} {
		m.Report(p, "step")
	}

	assert.Equal(t, []int{10, 30, 30, 32, 100, 100, 100}, seen)
	assert.Equal(t, Update{Percent: 100, Message: "step"}, m.Current())
}

func TestMonotonicKeepsMessageWhenEmpty(t *testing.T) {
	m := NewMonotonic(nil)
	m.Report(10, "submitting")
	m.Report(20, "")
	assert.Equal(t, "submitting", m.Current().Message)
}

func TestMultiSkipsNil(t *testing.T) {
	var a, b int
	Multi{
		Func(func(p int, _ string) { a = p }),
		nil,
		Func(func(p int, _ string) { b = p }),
	}.Report(42, "x")
	assert.Equal(t, 42, a)
	assert.Equal(t, 42, b)
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(t.TempDir())

	u, err := s.Read("abc")
	require.NoError(t, err)
	assert.Zero(t, u)

	s.Reporter("abc").Report(30, "accepted")
	u, err = s.Read("abc")
	require.NoError(t, err)
	assert.Equal(t, Update{Percent: 30, Message: "accepted"}, u)

	require.NoError(t, s.Remove("abc"))
	_, err = os.Stat(s.Path("abc"))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, s.Remove("abc"))
}

func TestFileStoreSanitizesSession(t *testing.T) {
	s := NewFileStore(t.TempDir())
	assert.Equal(t, "progress_etcpasswd.json", filepath.Base(s.Path("../etc/passwd")))
	assert.Error(t, s.Write("../", Update{}))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	_, ok := s.Get("job")
	assert.False(t, ok)

	s.Reporter("job").Report(80, "fetched")
	u, ok := s.Get("job")
	require.True(t, ok)
	assert.Equal(t, 80, u.Percent)

	s.Delete("job")
	_, ok = s.Get("job")
	assert.False(t, ok)
}

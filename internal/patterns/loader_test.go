package patterns

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserwarden/warden/internal/logging"
)

const samplePack = `
category: obfuscation
weight: 0.9
rules:
  - id: pack-test-marker
    pattern: 'PACKMARK-\d+'
    score: 20
    description: test marker
`

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack.yaml"), []byte(samplePack), 0o644))
	// Non-YAML files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a pack"), 0o644))

	lib := NewLibrary(16)
	before := lib.RuleCount()

	require.NoError(t, LoadDir(lib, dir, logging.NewNop()))
	assert.Equal(t, before+1, lib.RuleCount())

	res := lib.Scan("payload PACKMARK-9", Context{})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "pack-test-marker", res.Matches[0].RuleID)
}

func TestLoadDirSkipsMalformedPack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(samplePack), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("category: x\nrules:\n  - id: broken\n    pattern: '(['\n"), 0o644))

	lib := NewLibrary(16)
	before := lib.RuleCount()

	require.NoError(t, LoadDir(lib, dir, logging.NewNop()))
	// Only the good pack's rule landed.
	assert.Equal(t, before+1, lib.RuleCount())
}

func TestLoadDirReloadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack.yaml"), []byte(samplePack), 0o644))

	lib := NewLibrary(16)
	require.NoError(t, LoadDir(lib, dir, logging.NewNop()))
	count := lib.RuleCount()
	first := lib.Scan("payload PACKMARK-9", Context{})

	// Reloading the same directory replaces the pack instead of stacking
	// a second copy of every rule on top of the first.
	require.NoError(t, LoadDir(lib, dir, logging.NewNop()))
	assert.Equal(t, count, lib.RuleCount())

	second := lib.Scan("payload PACKMARK-9", Context{})
	require.Len(t, second.Matches, 1)
	assert.Equal(t, first.RawScore, second.RawScore)
	assert.Equal(t, first.Score, second.Score)
}

func TestFetchRemote(t *testing.T) {
	bundle := `
packs:
  - category: obfuscation
    rules:
      - id: remote-marker
        pattern: 'REMOTEMARK-\d+'
        score: 15
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bundle))
	}))
	defer srv.Close()

	lib := NewLibrary(16)
	before := lib.RuleCount()

	require.NoError(t, FetchRemote(context.Background(), lib, srv.URL, logging.NewNop()))
	assert.Equal(t, before+1, lib.RuleCount())

	res := lib.Scan("REMOTEMARK-1", Context{})
	assert.NotEmpty(t, res.Matches)
}

func TestFetchRemoteRefreshReplacesBundle(t *testing.T) {
	bundle := `
packs:
  - category: obfuscation
    rules:
      - id: remote-marker
        pattern: 'REMOTEMARK-\d+'
        score: 15
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bundle))
	}))
	defer srv.Close()

	lib := NewLibrary(16)
	require.NoError(t, FetchRemote(context.Background(), lib, srv.URL, logging.NewNop()))
	count := lib.RuleCount()

	require.NoError(t, FetchRemote(context.Background(), lib, srv.URL, logging.NewNop()))
	assert.Equal(t, count, lib.RuleCount())

	res := lib.Scan("REMOTEMARK-1", Context{})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 15.0, res.RawScore)
}

func TestFetchRemoteFailureLeavesRulesIntact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	lib := NewLibrary(16)
	before := lib.RuleCount()

	assert.Error(t, FetchRemote(context.Background(), lib, srv.URL, logging.NewNop()))
	assert.Equal(t, before, lib.RuleCount())
}

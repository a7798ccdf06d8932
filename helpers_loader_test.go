// jscomplete/helpers_loader_test.go
package jscomplete

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFiles creates each name -> content pair below dir.
func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o640))
	}
}

func TestFindManifest(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		defaultManifestFileName: "dependencies: []\n",
		"src/app/main.js":       "",
	})
	writeFiles(t, root, map[string]string{"other/" + defaultManifestFileName + "/x": ""})

	got, ok := findManifest(filepath.Join(root, "src", "app"), defaultManifestFileName)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, defaultManifestFileName), got)

	// A directory with the manifest's name is not a manifest.
	got, ok = findManifest(filepath.Join(root, "other"), defaultManifestFileName)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, defaultManifestFileName), got)

	_, ok = findManifest(filepath.Join(root, "src"), "missing.yaml")
	assert.False(t, ok)
}

func TestLoadDependencies(t *testing.T) {
	t.Run("resolves local paths relative to the manifest", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root, map[string]string{
			defaultManifestFileName: `
dependencies:
  - name: jquery
    path: vendor/jquery.js
  - path: lib/util.js
    kind: module
  - name: cdn
    path: https://cdn.example.com/lib.js
`,
			"vendor/jquery.js": "var jQuery = {};",
			"lib/util.js":      "",
			"src/app.js":       "",
		})

		deps, manifestPath, err := loadDependencies(filepath.Join(root, "src", "app.js"), defaultManifestFileName, discardLogger())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, defaultManifestFileName), manifestPath)
		require.Len(t, deps, 3)

		assert.Equal(t, "jquery", deps[0].Name)
		assert.Equal(t, filepath.Join(root, "vendor", "jquery.js"), deps[0].Path)
		assert.Equal(t, DependencyGlobal, deps[0].Kind, "kind defaults to global")
		assert.False(t, deps[0].Timestamp.IsZero())

		assert.Equal(t, "util", deps[1].Name, "name defaults to the file's base name")
		assert.Equal(t, DependencyModule, deps[1].Kind)

		assert.Equal(t, "https://cdn.example.com/lib.js", deps[2].Path)
		assert.True(t, deps[2].Timestamp.IsZero())
	})

	t.Run("no manifest", func(t *testing.T) {
		root := t.TempDir()
		deps, manifestPath, err := loadDependencies(filepath.Join(root, "app.js"), "absent-manifest.yaml", discardLogger())
		require.NoError(t, err)
		assert.Empty(t, deps)
		assert.Empty(t, manifestPath)
	})

	t.Run("invalid entries are reported with the valid ones", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root, map[string]string{
			defaultManifestFileName: `
dependencies:
  - name: a
    path: a.js
  - name: a
    path: other.js
  - path: b.js
    kind: amd
  - name: empty
`,
			"a.js": "",
		})
		deps, _, err := loadDependencies(filepath.Join(root, "app.js"), defaultManifestFileName, discardLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifest))
		assert.Contains(t, err.Error(), "listed twice")
		assert.Contains(t, err.Error(), "unknown kind")
		assert.Contains(t, err.Error(), "no path")
		require.Len(t, deps, 1)
		assert.Equal(t, "a", deps[0].Name)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root, map[string]string{defaultManifestFileName: "dependencies: [\n"})
		_, _, err := loadDependencies(filepath.Join(root, "app.js"), defaultManifestFileName, discardLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifest))
	})
}

func TestFetchDependency(t *testing.T) {
	ctx := context.Background()

	t.Run("local file", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root, map[string]string{"dep.js": "var dep = 1;"})
		got, err := fetchDependency(ctx, http.DefaultClient, Dependency{Path: filepath.Join(root, "dep.js")}, discardLogger())
		require.NoError(t, err)
		assert.Equal(t, "var dep = 1;", string(got))

		_, err = fetchDependency(ctx, http.DefaultClient, Dependency{Path: filepath.Join(root, "missing.js")}, discardLogger())
		assert.True(t, errors.Is(err, ErrFetch))
	})

	t.Run("remote retried on 503", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("var remote = true;"))
		}))
		defer srv.Close()

		got, err := fetchDependency(ctx, srv.Client(), Dependency{Path: srv.URL + "/lib.js"}, discardLogger())
		require.NoError(t, err)
		assert.Equal(t, "var remote = true;", string(got))
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("remote not found", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		_, err := fetchDependency(ctx, srv.Client(), Dependency{Path: srv.URL + "/missing.js"}, discardLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFetch))
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, http.StatusNotFound, fetchErr.Status)
	})
}

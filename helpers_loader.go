// jscomplete/helpers_loader.go
// Contains helpers for resolving a file's dependency manifest and fetching dependency sources.
package jscomplete

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifest is the YAML document listing the dependencies of the files below it:
//
//	dependencies:
//	  - name: jquery
//	    path: lib/jquery.js
//	    kind: global
type manifest struct {
	Dependencies []Dependency `yaml:"dependencies"`
}

// maxDependencySize bounds a fetched dependency source.
const maxDependencySize = 16 << 20

// findManifest walks up from dir and returns the first manifest called name.
func findManifest(dir, name string) (string, bool) {
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// loadDependencies resolves the dependency list of absFilename from the
// nearest manifest. No manifest means no dependencies. Local paths are made
// absolute relative to the manifest and stamped with their modification time.
func loadDependencies(absFilename, manifestName string, logger *slog.Logger) ([]Dependency, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	manifestPath, ok := findManifest(filepath.Dir(absFilename), manifestName)
	if !ok {
		logger.Debug("No dependency manifest found", "file", absFilename, "manifest_name", manifestName)
		return nil, "", nil
	}
	logger = logger.With("manifest", manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, manifestPath, fmt.Errorf("%w: reading %s: %w", ErrManifest, manifestPath, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, manifestPath, fmt.Errorf("%w: parsing %s: %w", ErrManifest, manifestPath, err)
	}

	baseDir := filepath.Dir(manifestPath)
	deps := make([]Dependency, 0, len(m.Dependencies))
	var problems []error
	seen := make(map[string]struct{})
	for i, dep := range m.Dependencies {
		dep.Path = strings.TrimSpace(dep.Path)
		if dep.Path == "" {
			problems = append(problems, fmt.Errorf("dependency %d has no path", i))
			continue
		}
		switch dep.Kind {
		case "":
			dep.Kind = DependencyGlobal
		case DependencyGlobal, DependencyModule:
		default:
			problems = append(problems, fmt.Errorf("dependency %q has unknown kind %q", dep.Path, dep.Kind))
			continue
		}
		if !isRemoteDependency(dep.Path) {
			if !filepath.IsAbs(dep.Path) {
				dep.Path = filepath.Join(baseDir, filepath.FromSlash(dep.Path))
			}
			dep.Path = filepath.Clean(dep.Path)
			if info, statErr := os.Stat(dep.Path); statErr == nil {
				dep.Timestamp = info.ModTime()
			} else {
				logger.Warn("Dependency source not accessible", "path", dep.Path, "error", statErr)
			}
		}
		if dep.Name == "" {
			dep.Name = summaryBaseName(dep.Path)
		}
		if _, dup := seen[dep.Name]; dup {
			problems = append(problems, fmt.Errorf("dependency name %q is listed twice", dep.Name))
			continue
		}
		seen[dep.Name] = struct{}{}
		deps = append(deps, dep)
	}

	logger.Debug("Resolved dependencies", "count", len(deps))
	if len(problems) > 0 {
		return deps, manifestPath, fmt.Errorf("%w: %w", ErrManifest, errors.Join(problems...))
	}
	return deps, manifestPath, nil
}

func isRemoteDependency(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// fetchDependency returns the source of dep. Remote sources are retried on
// 429 and 503 responses.
func fetchDependency(ctx context.Context, client *http.Client, dep Dependency, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !isRemoteDependency(dep.Path) {
		data, err := os.ReadFile(dep.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return data, nil
	}

	if _, err := url.Parse(dep.Path); err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %w", ErrFetch, dep.Path, err)
	}
	var body []byte
	err := retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, dep.Path, nil)
		if err != nil {
			return fmt.Errorf("%w: creating request: %w", ErrFetch, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &FetchError{URL: dep.Path, Message: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			return &FetchError{URL: dep.Path, Message: resp.Status, Status: resp.StatusCode}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDependencySize+1))
		if err != nil {
			return &FetchError{URL: dep.Path, Message: fmt.Sprintf("reading body: %v", err)}
		}
		if len(data) > maxDependencySize {
			return &FetchError{URL: dep.Path, Message: "dependency exceeds size limit"}
		}
		body = data
		return nil
	}, maxRetries, retryDelay, logger.With("url", dep.Path))
	if err != nil {
		if !errors.Is(err, ErrFetch) {
			err = fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return nil, err
	}
	return body, nil
}

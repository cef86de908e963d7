// Package archive models deployment archives: named collections of entries
// with a manifest, exported to and imported from zip bytes.
package archive

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

const ManifestPath = "META-INF/MANIFEST.MF"

// Manifest headers understood by the container.
const (
	HeaderSymbolicName  = "Bundle-SymbolicName"
	HeaderVersion       = "Bundle-Version"
	HeaderTestClasses   = "Test-Classes"
	HeaderRequireBundle = "Require-Bundle"
)

// Archive is a named deployment unit. It is safe for concurrent use.
type Archive struct {
	name string

	mu       sync.RWMutex
	entries  map[string][]byte
	manifest map[string]string
}

// New creates an empty archive called name
func New(name string) *Archive {
	return &Archive{
		name:     name,
		entries:  make(map[string][]byte),
		manifest: map[string]string{"Manifest-Version": "1.0"},
	}
}

func (a *Archive) Name() string {
	return a.name
}

// Add stores data under path, replacing any previous entry.
func (a *Archive) Add(path string, data []byte) *Archive {
	path = strings.TrimPrefix(path, "/")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[path] = append([]byte(nil), data...)
	return a
}

func (a *Archive) AddString(path, content string) *Archive {
	return a.Add(path, []byte(content))
}

// Get returns the content of the entry at path
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.entries[strings.TrimPrefix(path, "/")]
	return data, ok
}

func (a *Archive) Contains(path string) bool {
	_, ok := a.Get(path)
	return ok
}

// Paths returns the entry paths in sorted order. The manifest is not included.
func (a *Archive) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	paths := make([]string, 0, len(a.entries))
	for p := range a.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (a *Archive) SetHeader(key, value string) *Archive {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manifest[key] = value
	return a
}

func (a *Archive) Header(key string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.manifest[key]
}

// Manifest returns a copy of the manifest headers.
func (a *Archive) Manifest() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.manifest))
	for k, v := range a.manifest {
		out[k] = v
	}
	return out
}

// AddTestClasses lists class names in the Test-Classes header.
func (a *Archive) AddTestClasses(names ...string) *Archive {
	return a.appendList(HeaderTestClasses, names)
}

// Require declares a dependency on other bundles by symbolic name.
func (a *Archive) Require(symbolicNames ...string) *Archive {
	return a.appendList(HeaderRequireBundle, symbolicNames)
}

func (a *Archive) TestClasses() []string {
	return splitList(a.Header(HeaderTestClasses))
}

func (a *Archive) Requirements() []string {
	return splitList(a.Header(HeaderRequireBundle))
}

// SymbolicName falls back to the archive name when the header is unset.
func (a *Archive) SymbolicName() string {
	if n := a.Header(HeaderSymbolicName); n != "" {
		return n
	}
	return a.name
}

func (a *Archive) appendList(key string, values []string) *Archive {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := splitList(a.manifest[key])
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			list = append(list, v)
		}
	}
	a.manifest[key] = strings.Join(list, ",")
	return a
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExportZip writes the archive as zip bytes. The output depends only on the
// archive contents: the manifest comes first, entries follow in sorted order,
// and no timestamps are recorded.
func (a *Archive) ExportZip() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeEntry(zw, ManifestPath, a.manifestBytes()); err != nil {
		return nil, fmt.Errorf("cannot export archive %s: %w", a.name, err)
	}
	paths := make([]string, 0, len(a.entries))
	for p := range a.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := writeEntry(zw, p, a.entries[p]); err != nil {
			return nil, fmt.Errorf("cannot export archive %s: %w", a.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("cannot export archive %s: %w", a.name, err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, path string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: path, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// manifestBytes must be called with the read lock held.
func (a *Archive) manifestBytes() []byte {
	keys := make([]string, 0, len(a.manifest))
	for k := range a.manifest {
		if k != "Manifest-Version" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Manifest-Version: %s\n", a.manifest["Manifest-Version"])
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, a.manifest[k])
	}
	return []byte(b.String())
}

// ImportZip reads an archive previously written by ExportZip, or any zip with
// an optional META-INF/MANIFEST.MF.
func ImportZip(name string, data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("cannot import archive %s: %w", name, err)
	}
	a := New(name)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		content, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("cannot import archive %s: %w", name, err)
		}
		if f.Name == ManifestPath {
			parseManifest(a, content)
			continue
		}
		a.entries[f.Name] = content
	}
	return a, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func parseManifest(a *Archive, content []byte) {
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		a.manifest[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
}

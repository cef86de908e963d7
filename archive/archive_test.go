package archive

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArchive() *Archive {
	return New("sample.jar").
		SetHeader(HeaderSymbolicName, "sample").
		SetHeader(HeaderVersion, "1.0.0").
		AddTestClasses("sample.SimpleServiceTestCase", "sample.ArchiveTestCase").
		Require("api").
		AddString("sample/service.txt", "hello").
		Add("/sample/data.bin", []byte{0, 1, 2, 3})
}

func TestExportImportRoundTrip(t *testing.T) {
	orig := sampleArchive()

	data, err := orig.ExportZip()
	require.NoError(t, err)

	imported, err := ImportZip("copy.jar", data)
	require.NoError(t, err)

	assert.Equal(t, "copy.jar", imported.Name())
	assert.Equal(t, orig.Paths(), imported.Paths())
	assert.Equal(t, orig.Manifest(), imported.Manifest())

	content, ok := imported.Get("sample/data.bin")
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2, 3}, content)
	assert.Equal(t, []string{"sample.SimpleServiceTestCase", "sample.ArchiveTestCase"}, imported.TestClasses())
	assert.Equal(t, []string{"api"}, imported.Requirements())
	assert.Equal(t, "sample", imported.SymbolicName())
}

func TestExportIsDeterministic(t *testing.T) {
	a, err := sampleArchive().ExportZip()
	require.NoError(t, err)
	b, err := sampleArchive().ExportZip()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Re-exporting an import yields the same bytes.
	imported, err := ImportZip("sample.jar", a)
	require.NoError(t, err)
	c, err := imported.ExportZip()
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestImportRejectsNonZip(t *testing.T) {
	_, err := ImportZip("broken.jar", []byte("definitely not a zip"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot import archive broken.jar")
}

func TestSymbolicNameDefaultsToName(t *testing.T) {
	a := New("plain.jar")
	assert.Equal(t, "plain.jar", a.SymbolicName())
	assert.Empty(t, a.TestClasses())
	assert.False(t, a.Contains("anything"))
}

func TestExportCache(t *testing.T) {
	c, err := NewExportCache(2)
	require.NoError(t, err)

	builds := 0
	build := func() (*Archive, error) {
		builds++
		return sampleArchive(), nil
	}

	first, err := c.Export("sample/extra.jar", build)
	require.NoError(t, err)
	second, err := c.Export("sample/extra.jar", build)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, c.Len())

	_, err = c.Export("failing", func() (*Archive, error) { return nil, errors.New("no such archive") })
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = c.Export("nil", func() (*Archive, error) { return nil, nil })
	require.Error(t, err)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestNewExportCacheRejectsBadSize(t *testing.T) {
	_, err := NewExportCache(0)
	require.Error(t, err)
}

package staging

import (
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageBytesMaterializesTempFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	list := NewList(fs)

	src, err := list.StageBytes("/staging", "photo.jpg", []byte("bytes"))
	require.NoError(t, err)

	exists, err := afero.Exists(fs, src.Path())
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := list.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)
}

func TestCurrentReturnsMostRecent(t *testing.T) {
	fs := afero.NewMemMapFs()
	list := NewList(fs)

	_, err := list.StageBytes("/staging", "a.bin", []byte("first"))
	require.NoError(t, err)
	_, err = list.StageBytes("/staging", "b.bin", []byte("second"))
	require.NoError(t, err)

	data, err := list.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
	assert.Equal(t, 2, list.Len())
}

func TestClearReleasesOwnedSources(t *testing.T) {
	fs := afero.NewMemMapFs()
	list := NewList(fs)

	src, err := list.StageBytes("/staging", "a.bin", []byte("data"))
	require.NoError(t, err)
	require.NoError(t, list.Clear())

	exists, err := afero.Exists(fs, src.Path())
	require.NoError(t, err)
	assert.False(t, exists, "owned temp file should be removed on Clear")
	assert.Equal(t, 0, list.Len())
}

func TestClearKeepsUnownedPaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/input/upload.bin", []byte("keep"), 0o600))

	list := NewList(fs)
	list.StagePath("/input/upload.bin")
	require.NoError(t, list.Clear())

	exists, err := afero.Exists(fs, "/input/upload.bin")
	require.NoError(t, err)
	assert.True(t, exists, "caller-owned files survive Clear")
}

func TestCurrentFallsBackToPersistedBytes(t *testing.T) {
	fs := afero.NewMemMapFs()
	list := NewList(fs)
	called := 0
	list.Fallback = func() (Source, error) {
		called++
		return list.StageBytes("/staging", "restored.bin", []byte("persisted"))
	}

	data, err := list.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
	assert.Equal(t, 1, called)

	// The restored source is now staged; a second read does not re-fetch.
	_, err = list.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestCurrentWithoutSourcesOrFallback(t *testing.T) {
	list := NewList(afero.NewMemMapFs())
	_, err := list.Current()
	assert.Error(t, err)
}

func TestTempNamesDoNotCollide(t *testing.T) {
	a := TempName("photo.jpg")
	b := TempName("photo.jpg")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "photo.jpg")
}

func TestSourceOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	list := NewList(fs)
	src, err := list.StageBytes("/staging", "a.bin", []byte("stream"))
	require.NoError(t, err)

	rc, err := src.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("stream"), data)
}

package importpoints

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{
		"/data/b/104002_mr32619_points.geojson",
		"/data/a/104001_mr32619_points.GeoJSON",
		"/data/a/notes.txt",
		"/single/104003_mr32620_points.geojson",
	} {
		require.NoError(t, afero.WriteFile(fs, name, []byte("{}"), 0o644))
	}

	files, err := collect(fs, []string{"/data", "/single/104003_mr32620_points.geojson"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/data/a/104001_mr32619_points.GeoJSON",
		"/data/b/104002_mr32619_points.geojson",
		"/single/104003_mr32620_points.geojson",
	}, files)

	_, err = collect(fs, []string{"/missing"})
	require.Error(t, err)
}

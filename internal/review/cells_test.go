package review

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-review/gaia/internal/datastore"
	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/events"
	"github.com/gaia-review/gaia/internal/fishnet"
	"github.com/gaia-review/gaia/internal/footprint"
	"github.com/gaia-review/gaia/internal/spatial"
)

var utm19N = spatial.CRS{EPSG: 32619, Unit: "metre"}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

// recordRun stores two 400 m cells for vendor 104001 and a failed raster.
func recordRun(t *testing.T, f *fixture) (*entities.FishnetRun, []entities.FishnetCell) {
	t.Helper()
	ctx := context.Background()
	batch := &fishnet.BatchResult{
		Cells: []fishnet.Cell{
			{RasterID: "104001", Index: 0, Shape: fishnet.ShapeRectangle, CRS: utm19N, Polygon: square(0, 0, 400)},
			{RasterID: "104001", Index: 1, Shape: fishnet.ShapeRectangle, CRS: utm19N, Polygon: square(400, 0, 400)},
		},
		Failures: []*fishnet.RasterError{{
			RasterID: "geo",
			Path:     "/data/geo.tif",
			Err:      &fishnet.InvalidCRSError{RasterID: "geo", CRS: spatial.WGS84},
		}},
		Rasters: 1,
	}
	opts := fishnet.DefaultOptions()

	run, err := f.engine.RecordFishnetRun(ctx, 7, opts, batch)
	require.NoError(t, err)

	cells, err := f.store.Cells().CellsByVendor(ctx, "104001")
	require.NoError(t, err)
	require.Len(t, cells, 2)
	return run, cells
}

func TestRecordFishnetRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	run, cells := recordRun(t, f)

	assert.Equal(t, 2, run.CellCount)
	assert.Equal(t, uint(7), run.ProjectID)
	assert.JSONEq(t, `{"cell_width":400,"cell_height":600,"buffer":0,"shape":"rectangle"}`, string(run.Parameters))
	assert.JSONEq(t, `["104001"]`, string(run.Rasters))

	var failures []map[string]string
	require.NoError(t, json.Unmarshal(run.Failures, &failures))
	require.Len(t, failures, 1)
	assert.Equal(t, "geo", failures[0]["raster_id"])
	assert.Equal(t, "invalid_crs", failures[0]["reason"])

	for i, c := range cells {
		assert.Equal(t, i, c.CellIndex)
		assert.Equal(t, uint(7), c.ProjectID)
		assert.Equal(t, 32619, c.EPSG)
		assert.Equal(t, entities.StatusAvailable, c.Status)
	}

	published := f.events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.SourceFishnet, published[0].Source)
	assert.Equal(t, "104001", published[0].VendorID)
	assert.Equal(t, run.UUID, published[0].RunID)
	assert.Equal(t, 2, published[0].Cells)
	assert.Equal(t, 32619, published[0].EPSG)
	assert.Equal(t, f.clock.Now(), published[0].RegisteredAt)
}

func TestCellReviewNeedsTwoReviewers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, cells := recordRun(t, f)

	alice := Reviewer{ID: "alice", ProjectID: 7}
	bob := Reviewer{ID: "bob", ProjectID: 7}
	carol := Reviewer{ID: "carol", ProjectID: 7}

	got, err := f.engine.NextCellForReviewer(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, cells[0].ID, got.ID)

	first, err := f.engine.SubmitCellReview(ctx, alice, got.ID)
	require.NoError(t, err)
	assert.Equal(t, CellPending, first.Outcome)
	assert.Equal(t, 1, first.Reviews)
	assert.Nil(t, first.CompletedAt)

	_, err = f.engine.SubmitCellReview(ctx, alice, got.ID)
	require.ErrorIs(t, err, datastore.ErrDuplicateReview)
	assert.True(t, errors.IsConflict(err))

	got, err = f.engine.NextCellForReviewer(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, cells[1].ID, got.ID, "reviewed cell not offered twice")

	got, err = f.engine.NextCellForReviewer(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, cells[0].ID, got.ID)

	second, err := f.engine.SubmitCellReview(ctx, bob, got.ID)
	require.NoError(t, err)
	assert.Equal(t, CellComplete, second.Outcome)
	require.NotNil(t, second.CompletedAt)

	stored, err := f.store.Cells().Get(ctx, cells[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusReviewed, stored.Status)

	got, err = f.engine.NextCellForReviewer(ctx, carol)
	require.NoError(t, err)
	assert.Nil(t, got, "the open cell is locked by alice")

	_, err = f.engine.SubmitCellReview(ctx, carol, cells[1].ID)
	require.ErrorIs(t, err, datastore.ErrLocked)

	require.NoError(t, f.engine.ReleaseCell(ctx, alice, cells[1].ID))
	got, err = f.engine.NextCellForReviewer(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, cells[1].ID, got.ID)

	_, err = f.engine.SubmitCellReview(ctx, carol, cells[0].ID)
	require.ErrorIs(t, err, datastore.ErrFinalized)
}

func TestFlagPointsCreatesPOIsForCell(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, cells := recordRun(t, f)
	alice := Reviewer{ID: "alice", ProjectID: 7}

	cell, err := f.engine.NextCellForReviewer(ctx, alice)
	require.NoError(t, err)

	_, err = f.engine.FlagPoints(ctx, alice, cell.ID, []orb.Point{{100, 100}, {900, 100}})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = f.engine.FlagPoints(ctx, Reviewer{ID: "bob"}, cell.ID, []orb.Point{{100, 100}})
	require.ErrorIs(t, err, datastore.ErrLocked)

	unlocked := cells[1]
	require.NotEqual(t, cell.ID, unlocked.ID)
	_, err = f.engine.FlagPoints(ctx, alice, unlocked.ID, []orb.Point{{500, 100}})
	require.ErrorIs(t, err, ErrCellLockNotHeld)
	assert.True(t, errors.IsConflict(err))

	_, err = f.engine.FlagPoints(ctx, alice, cell.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	flagged, err := f.engine.FlagPoints(ctx, alice, cell.ID, []orb.Point{{100, 100}, {250, 300}})
	require.NoError(t, err)
	require.Len(t, flagged, 2)

	for _, p := range flagged {
		stored, err := f.store.POIs().Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "104001", stored.VendorID)
		assert.Equal(t, uint(7), stored.ProjectID)
		assert.Equal(t, 32619, stored.EPSG)
		pt, ok := stored.Point.Point()
		require.True(t, ok)
		assert.Contains(t, []orb.Point{{100, 100}, {250, 300}}, pt)
	}

	// the new points go straight into the POI review queue
	poi, err := f.engine.NextForReviewer(ctx, Reviewer{ID: "bob", ProjectID: 7})
	require.NoError(t, err)
	require.NotNil(t, poi)
	assert.Equal(t, flagged[0].ID, poi.ID)
}

func TestReleaseStaleCellLocks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	recordRun(t, f)

	_, err := f.engine.NextCellForReviewer(ctx, Reviewer{ID: "alice"})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	released, err := f.engine.ReleaseStaleLocks(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Released{POIs: 0, Cells: 1}, released)
}

func TestRecordFishnetRunFromPartitioner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	fp := footprint.Footprint{
		RasterID: "105001",
		Path:     "/data/105001.tif",
		CRS:      utm19N,
		Polygon:  square(0, 0, 800),
	}
	batch, err := fishnet.NewPartitioner(nil, fishnet.WithLogger(testLogger())).
		PartitionAll(context.Background(), []footprint.Footprint{fp}, fishnet.Options{
			CellWidth: 400, CellHeight: 400, Shape: fishnet.ShapeRectangle,
		})
	require.NoError(t, err)

	run, err := f.engine.RecordFishnetRun(context.Background(), 1, fishnet.DefaultOptions(), batch)
	require.NoError(t, err)
	assert.Equal(t, len(batch.Cells), run.CellCount)
	assert.Positive(t, run.CellCount)
}

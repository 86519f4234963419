package review

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/events"
	"github.com/gaia-review/gaia/internal/fishnet"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

type runParameters struct {
	CellWidth  float64 `json:"cell_width"`
	CellHeight float64 `json:"cell_height"`
	Buffer     float64 `json:"buffer"`
	Shape      string  `json:"shape"`
}

type runFailure struct {
	RasterID string `json:"raster_id"`
	Path     string `json:"path,omitempty"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

// RecordFishnetRun stores a partition batch as a run with one reviewable
// cell per grid cell, then announces every source image that produced
// cells. Failed rasters are kept on the run record.
func (e *Engine) RecordFishnetRun(ctx context.Context, projectID uint, opts fishnet.Options, batch *fishnet.BatchResult) (*entities.FishnetRun, error) {
	params, err := json.Marshal(runParameters{
		CellWidth:  opts.CellWidth,
		CellHeight: opts.CellHeight,
		Buffer:     opts.Buffer,
		Shape:      string(opts.Shape),
	})
	if err != nil {
		return nil, wrap(err, metrics.OpSaveRun)
	}

	perRaster := make(map[string]int)
	epsg := make(map[string]int)
	cells := make([]entities.FishnetCell, len(batch.Cells))
	for i, c := range batch.Cells {
		cells[i] = entities.FishnetCell{
			ProjectID: projectID,
			VendorID:  c.RasterID,
			CellIndex: c.Index,
			Shape:     string(c.Shape),
			EPSG:      c.CRS.EPSG,
			Cell:      entities.NewGeometry(c.Polygon),
			Status:    entities.StatusAvailable,
		}
		perRaster[c.RasterID]++
		epsg[c.RasterID] = c.CRS.EPSG
	}

	rasters := make([]string, 0, len(perRaster))
	for id := range perRaster {
		rasters = append(rasters, id)
	}
	slices.Sort(rasters)
	rastersJSON, err := json.Marshal(rasters)
	if err != nil {
		return nil, wrap(err, metrics.OpSaveRun)
	}

	failures := make([]runFailure, 0, len(batch.Failures))
	for _, f := range batch.Failures {
		failures = append(failures, runFailure{
			RasterID: f.RasterID,
			Path:     f.Path,
			Reason:   f.Reason(),
			Error:    f.Err.Error(),
		})
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return nil, wrap(err, metrics.OpSaveRun)
	}

	run := &entities.FishnetRun{
		UUID:       uuid.NewString(),
		ProjectID:  projectID,
		Parameters: datatypes.JSON(params),
		Rasters:    datatypes.JSON(rastersJSON),
		Failures:   datatypes.JSON(failuresJSON),
	}
	if err := e.cells.SaveRun(ctx, run, cells); err != nil {
		return nil, wrap(err, metrics.OpSaveRun, "run_uuid", run.UUID)
	}

	e.log.WithContext(ctx).Info("fishnet run recorded",
		logger.String("run_uuid", run.UUID),
		logger.Int("cells", run.CellCount),
		logger.Int("rasters", len(rasters)),
		logger.Int("failures", len(failures)))

	for _, id := range rasters {
		e.publish(ctx, events.SourceImageRegistered{
			VendorID:  id,
			ProjectID: projectID,
			EPSG:      epsg[id],
			Source:    events.SourceFishnet,
			RunID:     run.UUID,
			Cells:     perRaster[id],
		})
	}
	return run, nil
}

package footprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/spatial"
)

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: binary paths come from configuration, args are fixed

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", filepath.Base(name), err, strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}

// GDALReader extracts footprints with gdalinfo and gdal_footprint.
type GDALReader struct {
	InfoPath      string
	FootprintPath string
	Timeout       time.Duration
	Runner        Runner
	Logger        logger.Logger
}

// NewGDALReader returns a reader using the given binaries. Empty paths fall
// back to the binaries on PATH.
func NewGDALReader(infoPath, footprintPath string, timeout time.Duration, log logger.Logger) *GDALReader {
	if infoPath == "" {
		infoPath = "gdalinfo"
	}
	if footprintPath == "" {
		footprintPath = "gdal_footprint"
	}
	if log == nil {
		log = logger.Global().Module("footprint")
	}
	return &GDALReader{
		InfoPath:      infoPath,
		FootprintPath: footprintPath,
		Timeout:       timeout,
		Runner:        ExecRunner{},
		Logger:        log,
	}
}

// gdalInfo is the subset of `gdalinfo -json` output the reader needs.
type gdalInfo struct {
	CoordinateSystem struct {
		WKT string `json:"wkt"`
	} `json:"coordinateSystem"`
	Stac struct {
		EPSG *int `json:"proj:epsg"`
	} `json:"stac"`
}

// Footprint implements Reader. The footprint is requested in the raster's own
// CRS so partitioning happens in projected units.
func (r *GDALReader) Footprint(ctx context.Context, rasterPath string) (Footprint, error) {
	if _, err := os.Stat(rasterPath); err != nil {
		return Footprint{}, unreadable(rasterPath, err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	crs, err := r.readCRS(ctx, rasterPath)
	if err != nil {
		return Footprint{}, err
	}

	tmpDir, err := os.MkdirTemp("", "gaia-footprint-")
	if err != nil {
		return Footprint{}, errors.New(err).
			Component("footprint").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.Logger.Warn("failed to remove footprint temp dir", logger.String("dir", tmpDir), logger.Error(err))
		}
	}()

	id := RasterID(rasterPath)
	outPath := filepath.Join(tmpDir, id+"_fp.geojson")

	args := []string{"-srcnodata", "0", "-of", "GeoJSON", "-lco", "RFC7946=NO"}
	if crs.EPSG != 0 {
		args = append(args, "-t_srs", "EPSG:"+strconv.Itoa(crs.EPSG))
	}
	args = append(args, rasterPath, outPath)

	if _, err := r.Runner.Run(ctx, r.FootprintPath, args...); err != nil {
		return Footprint{}, r.commandError(err, rasterPath, "gdal_footprint")
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return Footprint{}, unreadable(rasterPath, err)
	}
	fp, err := parseFootprintGeoJSON(data)
	if err != nil {
		return Footprint{}, unreadable(rasterPath, err)
	}

	// gdalinfo knows the axis unit even when the GeoJSON crs member is absent.
	fp.CRS = crs
	fp.RasterID = id
	fp.Path = rasterPath

	r.Logger.Debug("footprint extracted",
		logger.String("raster", id),
		logger.String("crs", crs.String()),
		logger.Int("rings", len(fp.Polygon)),
		logger.Duration("elapsed", time.Since(start)))

	return fp, nil
}

func (r *GDALReader) readCRS(ctx context.Context, rasterPath string) (spatial.CRS, error) {
	out, err := r.Runner.Run(ctx, r.InfoPath, "-json", rasterPath)
	if err != nil {
		return spatial.CRS{}, r.commandError(err, rasterPath, "gdalinfo")
	}

	var info gdalInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return spatial.CRS{}, unreadable(rasterPath, fmt.Errorf("decode gdalinfo output: %w", err))
	}
	if info.CoordinateSystem.WKT == "" {
		return spatial.CRS{}, unreadable(rasterPath, fmt.Errorf("raster is not georeferenced"))
	}

	crs := spatial.CRSFromWKT(info.CoordinateSystem.WKT)
	if info.Stac.EPSG != nil && *info.Stac.EPSG != 0 {
		crs.EPSG = *info.Stac.EPSG
		if known, ok := spatial.LookupEPSG(crs.EPSG); ok {
			crs.Name = known.Name
		}
	}
	return crs, nil
}

func (r *GDALReader) commandError(err error, rasterPath, tool string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New(err).
			Component("footprint").
			Category(errors.CategoryTimeout).
			Context("tool", tool).
			Context("raster", filepath.Base(rasterPath)).
			Build()
	}
	if errors.Is(err, context.Canceled) {
		return errors.New(err).
			Component("footprint").
			Category(errors.CategoryCancellation).
			Context("tool", tool).
			Build()
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return errors.New(err).
			Component("footprint").
			Category(errors.CategoryCommandExecution).
			Priority(errors.PriorityHigh).
			Context("tool", tool).
			Build()
	}
	return unreadable(rasterPath, err)
}

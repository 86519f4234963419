// Package fishnet provides the command that tiles raster footprints into
// review cells
package fishnet

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gaia-review/gaia/internal/app"
	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/fishnet"
	"github.com/gaia-review/gaia/internal/logger"
)

type options struct {
	width     float64
	height    float64
	buffer    float64
	shape     string
	reader    string
	projectID uint
	out       string
	wgs84     bool
	noStore   bool
}

// Command creates the fishnet command.
func Command(settings *conf.Settings) *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "fishnet <raster>...",
		Short: "Partition raster footprints into a fishnet of review cells",
		Long: `Fishnet reads the valid-data footprint of each raster, covers it with
rectangular or hexagonal cells in the raster's own metric CRS and stores
the cells for review. Rasters in a non-meter CRS are reported and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, settings, &o)
			return run(cmd.Context(), settings, o, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().Float64Var(&o.width, "width", 0, "Cell width in CRS units (x pitch)")
	cmd.Flags().Float64Var(&o.height, "height", 0, "Cell height in CRS units (y pitch)")
	cmd.Flags().Float64Var(&o.buffer, "buffer", 0, "Expand the footprint bounds by this distance")
	cmd.Flags().StringVar(&o.shape, "shape", "", "Cell shape: rectangle or hexagon")
	cmd.Flags().StringVar(&o.reader, "reader", "", "Footprint reader: gdal or geojson")
	cmd.Flags().UintVar(&o.projectID, "project", 0, "Project the cells belong to")
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "Write the cells as GeoJSON to this file, - for stdout")
	cmd.Flags().BoolVar(&o.wgs84, "wgs84", false, "Reproject the GeoJSON output to WGS84")
	cmd.Flags().BoolVar(&o.noStore, "no-store", false, "Do not store the cells, only write GeoJSON")

	return cmd
}

// applyFlags overrides the loaded fishnet settings with explicitly set flags.
func applyFlags(cmd *cobra.Command, settings *conf.Settings, o *options) {
	f := cmd.Flags()
	if f.Changed("width") {
		settings.Fishnet.CellWidth = o.width
	}
	if f.Changed("height") {
		settings.Fishnet.CellHeight = o.height
	}
	if f.Changed("buffer") {
		settings.Fishnet.Buffer = o.buffer
	}
	if f.Changed("shape") {
		settings.Fishnet.Shape = o.shape
	}
	if f.Changed("reader") {
		settings.Fishnet.Reader = o.reader
	}
	if f.Changed("wgs84") {
		settings.Fishnet.OutputWGS84 = o.wgs84
	}
}

// partitionOptions converts settings into validated partition options.
func partitionOptions(s *conf.FishnetSettings) (fishnet.Options, error) {
	shape, err := fishnet.ParseShape(s.Shape)
	if err != nil {
		return fishnet.Options{}, err
	}
	opts := fishnet.Options{
		CellWidth:  s.CellWidth,
		CellHeight: s.CellHeight,
		Buffer:     s.Buffer,
		Shape:      shape,
	}
	return opts, opts.Validate()
}

func run(ctx context.Context, settings *conf.Settings, o options, rasters []string, stdout, stderr io.Writer) error {
	log := logger.Global().Module("fishnet")

	opts, err := partitionOptions(&settings.Fishnet)
	if err != nil {
		return err
	}
	reader, err := app.NewFootprintReader(&settings.Fishnet)
	if err != nil {
		return err
	}

	var batch *fishnet.BatchResult
	if o.noStore {
		p := fishnet.NewPartitioner(reader, fishnet.WithConcurrency(settings.Fishnet.Concurrency))
		if batch, err = p.Run(ctx, rasters, opts); err != nil {
			return err
		}
	} else {
		services, err := app.New(ctx, settings)
		if err != nil {
			return err
		}
		defer services.Close()

		if batch, err = services.Partitioner(reader).Run(ctx, rasters, opts); err != nil {
			return err
		}
		if len(batch.Cells) > 0 {
			stored, err := services.Engine.RecordFishnetRun(ctx, o.projectID, opts, batch)
			if err != nil {
				return err
			}
			log.Info("fishnet run stored",
				logger.String("run", stored.UUID),
				logger.Int("cells", stored.CellCount))
		}
	}

	for _, f := range batch.Failures {
		fmt.Fprintf(stderr, "skipped %s: %s (%v)\n", f.Path, f.Reason(), f.Err)
	}

	if o.out != "" {
		if err := writeCells(batch.Cells, settings.Fishnet.OutputWGS84, o.out, stdout); err != nil {
			return err
		}
	}

	fmt.Fprintf(stderr, "%d cells from %d of %d rasters\n", len(batch.Cells), batch.Rasters, len(rasters))
	if batch.Rasters == 0 {
		return fmt.Errorf("no raster could be partitioned")
	}
	return nil
}

func writeCells(cells []fishnet.Cell, toWGS84 bool, path string, stdout io.Writer) error {
	fc, err := fishnet.FeatureCollection(cells, toWGS84)
	if err != nil {
		return err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode cells: %w", err)
	}
	if path == "-" {
		_, err = stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.FileError(fmt.Errorf("failed to write %s: %w", path, err), path, int64(len(data)))
	}
	return nil
}

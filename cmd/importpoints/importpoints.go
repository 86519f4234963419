// Package importpoints provides the command that loads detection GeoJSON
// files as points of interest
package importpoints

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gaia-review/gaia/internal/app"
	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/review"
)

// Command creates the import-points command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts review.ImportOptions

	cmd := &cobra.Command{
		Use:   "import-points <file|dir>...",
		Short: "Import detection GeoJSON files as points of interest",
		Long: `Import-points reads detection files named <vendor>_mr<epsg>_<suffix>.geojson.
Directories are searched recursively. Re-importing a file updates the
existing points instead of duplicating them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, args, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().UintVar(&opts.ProjectID, "project", 0, "Project the points belong to")
	cmd.Flags().StringVar(&opts.VendorID, "vendor", "", "Source image id, overrides the file name")
	cmd.Flags().IntVar(&opts.EPSG, "epsg", 0, "EPSG code of the coordinates, overrides the file name")

	return cmd
}

// collect expands directories into the detection files they contain.
func collect(fs afero.Fs, args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := fs.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = afero.Walk(fs, arg, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".geojson") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("cannot walk %s: %w", arg, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func run(ctx context.Context, settings *conf.Settings, args []string, opts review.ImportOptions, out io.Writer) error {
	log := logger.Global().Module("import")

	files, err := collect(afero.NewOsFs(), args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .geojson files found")
	}
	if (opts.VendorID != "" || opts.EPSG != 0) && len(files) > 1 {
		log.Warn("vendor and epsg overrides apply to every file", logger.Int("files", len(files)))
	}

	services, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer services.Close()

	var total, failed int
	for _, path := range files {
		res, err := services.Engine.ImportPoints(ctx, path, opts)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		total += res.Points
		fmt.Fprintf(out, "%s: %d points from %s (EPSG:%d)\n", path, res.Points, res.VendorID, res.EPSG)
	}

	fmt.Fprintf(out, "imported %d points from %d files\n", total, len(files)-failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to import", failed, len(files))
	}
	return nil
}

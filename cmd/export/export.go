// Package export provides commands that dump review results for analysis
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaia-review/gaia/internal/app"
	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/datastore"
	annotations "github.com/gaia-review/gaia/internal/export"
	"github.com/gaia-review/gaia/internal/logger"
)

// Command creates the export command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export review results",
	}
	cmd.AddCommand(annotationsCommand(settings))
	return cmd
}

type annotationOptions struct {
	format    string
	out       string
	projectID uint
	reviewer  string
	since     string
}

func annotationsCommand(settings *conf.Settings) *cobra.Command {
	var o annotationOptions

	cmd := &cobra.Command{
		Use:   "annotations",
		Short: "Export reviewer annotations as CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotations(cmd.Context(), settings, o, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&o.format, "format", "f", "", "Output format: csv or xlsx (default from --out, else csv)")
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().UintVar(&o.projectID, "project", 0, "Only annotations on this project's points")
	cmd.Flags().StringVar(&o.reviewer, "reviewer", "", "Only annotations by this reviewer")
	cmd.Flags().StringVar(&o.since, "since", "", "Only annotations made on or after this date (YYYY-MM-DD or RFC3339)")

	return cmd
}

// resolveFormat picks the explicit format, then the output extension.
func resolveFormat(format, out string) (annotations.Format, error) {
	if format == "" && out != "" {
		format = strings.TrimPrefix(filepath.Ext(out), ".")
	}
	return annotations.ParseFormat(format)
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

func runAnnotations(ctx context.Context, settings *conf.Settings, o annotationOptions, stdout io.Writer) error {
	format, err := resolveFormat(o.format, o.out)
	if err != nil {
		return err
	}
	since, err := parseSince(o.since)
	if err != nil {
		return err
	}

	services, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer services.Close()

	list, err := services.Store.POIs().ListAnnotations(ctx, datastore.AnnotationFilter{
		ProjectID:  o.projectID,
		ReviewerID: o.reviewer,
		Since:      since,
	})
	if err != nil {
		return err
	}

	w := stdout
	if o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", o.out, err)
		}
		defer f.Close()
		w = f
	}

	if err := annotations.Write(w, format, list); err != nil {
		return err
	}

	logger.Global().Module("export").Info("annotations exported",
		logger.Int("rows", len(list)),
		logger.String("format", string(format)),
		logger.String("out", o.out))
	return nil
}

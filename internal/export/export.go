// Package export writes reviewer annotations as CSV or Excel workbooks for
// offline analysis.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/errors"
)

// Columns is the header row of every export.
var Columns = []string{
	"id",
	"comments",
	"poi_id",
	"classification",
	"confidence",
	"target",
	"reviewer_id",
	"date",
}

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// SheetName is the worksheet holding annotations in XLSX exports.
const SheetName = "Annotations"

// ParseFormat accepts csv and xlsx in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	case "":
		return FormatCSV, nil
	}
	return "", errors.Newf("unknown export format %q", s).
		Component("export").
		Category(errors.CategoryValidation).
		Build()
}

// Extension is the file extension for f, with the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Write encodes annotations in format to w.
func Write(w io.Writer, format Format, annotations []entities.Annotation) error {
	switch format {
	case FormatCSV:
		return WriteAnnotationsCSV(w, annotations)
	case FormatXLSX:
		return WriteAnnotationsXLSX(w, annotations)
	default:
		_, err := ParseFormat(string(format))
		return err
	}
}

// record renders one annotation in column order. Missing target and
// confidence are empty cells.
func record(a *entities.Annotation) []string {
	return []string{
		strconv.FormatUint(uint64(a.ID), 10),
		a.Comments,
		strconv.FormatUint(uint64(a.POIID), 10),
		a.Classification,
		deref(a.Confidence),
		deref(a.Target),
		a.ReviewerID,
		formatDate(a.CreatedAt),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteAnnotationsCSV writes a header row followed by one row per
// annotation.
func WriteAnnotationsCSV(w io.Writer, annotations []entities.Annotation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return exportError(err, FormatCSV)
	}
	for i := range annotations {
		if err := cw.Write(record(&annotations[i])); err != nil {
			return exportError(err, FormatCSV)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return exportError(err, FormatCSV)
	}
	return nil
}

// WriteAnnotationsXLSX writes a single-sheet workbook with a styled,
// frozen header row.
func WriteAnnotationsXLSX(w io.Writer, annotations []entities.Annotation) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return exportError(err, FormatXLSX)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return exportError(err, FormatXLSX)
	}

	if err := f.SetSheetRow(SheetName, "A1", &Columns); err != nil {
		return exportError(err, FormatXLSX)
	}
	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return exportError(err, FormatXLSX)
	}
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		return exportError(err, FormatXLSX)
	}

	for i := range annotations {
		a := &annotations[i]
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return exportError(err, FormatXLSX)
		}
		// ids stay numeric so spreadsheets sort them correctly
		row := []any{
			a.ID,
			a.Comments,
			a.POIID,
			a.Classification,
			deref(a.Confidence),
			deref(a.Target),
			a.ReviewerID,
			formatDate(a.CreatedAt),
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return exportError(err, FormatXLSX)
		}
	}

	widths := map[string]float64{"B": 40, "D": 16, "E": 12, "F": 24, "G": 20, "H": 22}
	for col, width := range widths {
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return exportError(err, FormatXLSX)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return exportError(err, FormatXLSX)
	}

	if _, err := f.WriteTo(w); err != nil {
		return exportError(err, FormatXLSX)
	}
	return nil
}

func exportError(err error, format Format) error {
	return errors.New(err).
		Component("export").
		Category(errors.CategoryExport).
		Context("format", string(format)).
		Build()
}

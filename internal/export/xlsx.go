// Package export writes resources to spreadsheet files.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/models"
)

// maxSheetName is the longest sheet name Excel accepts
const maxSheetName = 31

// Lister is the part of the data provider an export needs
type Lister interface {
	Resource(resource string) (*models.EntitySet, error)
	GetList(ctx context.Context, resource string, params models.ListParams) (*models.ListResult, error)
}

// Options tune an export
type Options struct {
	PerPage int
	Sort    models.Sort
	Filter  models.Filter
	// MaxRows stops the export early; zero exports everything
	MaxRows int
	// Progress is called after each page with the rows written so far
	Progress func(rows int, total int64)
}

// Summary describes a finished export
type Summary struct {
	Resource string
	Columns  []string
	Rows     int
	Pages    int
	Total    int64
}

// ToFile exports resource into a new .xlsx file at path
func ToFile(ctx context.Context, lister Lister, resource, path string, opts Options) (*Summary, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	summary, err := Write(ctx, lister, resource, file, opts)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return summary, nil
}

// Write pages through resource with GetList and writes one sheet: a header
// row of the declared properties followed by one row per record
func Write(ctx context.Context, lister Lister, resource string, w io.Writer, opts Options) (*Summary, error) {
	set, err := lister.Resource(resource)
	if err != nil {
		return nil, err
	}
	if opts.PerPage <= 0 {
		opts.PerPage = constants.DefaultExportPerPage
	}

	columns := make([]string, len(set.Type.Properties))
	for i, prop := range set.Type.Properties {
		columns[i] = prop.Name
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sheetName(set.URLSegment)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to open sheet writer: %w", err)
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	summary := &Summary{Resource: set.URLSegment, Columns: columns}
	for page := 1; ; page++ {
		result, err := lister.GetList(ctx, set.URLSegment, models.ListParams{
			Pagination: models.Pagination{Page: page, PerPage: opts.PerPage},
			Sort:       opts.Sort,
			Filter:     opts.Filter,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", page, set.URLSegment, err)
		}
		summary.Pages = page
		summary.Total = result.Total

		for _, record := range result.Records {
			if opts.MaxRows > 0 && summary.Rows >= opts.MaxRows {
				break
			}
			cell, err := excelize.CoordinatesToCellName(1, summary.Rows+2)
			if err != nil {
				return nil, err
			}
			if err := sw.SetRow(cell, row(columns, record)); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", summary.Rows+1, err)
			}
			summary.Rows++
		}

		if opts.Progress != nil {
			opts.Progress(summary.Rows, result.Total)
		}
		if opts.MaxRows > 0 && summary.Rows >= opts.MaxRows {
			break
		}
		if lastPage(summary.Rows, result.Total, len(result.Records), opts.PerPage) {
			break
		}
	}

	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return summary, nil
}

// lastPage decides whether paging is finished. A short page always ends the
// export. A real count (one larger than the page) ends it once reached;
// services without a count report the page length and are paged until short.
func lastPage(fetched int, total int64, pageLen, perPage int) bool {
	if pageLen < perPage {
		return true
	}
	return total > int64(pageLen) && int64(fetched) >= total
}

// row renders record values in column order. Nested values are written as JSON.
func row(columns []string, record models.Record) []interface{} {
	out := make([]interface{}, len(columns))
	for i, c := range columns {
		switch v := record[c].(type) {
		case nil:
		case map[string]interface{}, []interface{}:
			data, _ := json.Marshal(v)
			out[i] = string(data)
		default:
			out[i] = v
		}
	}
	return out
}

// sheetName strips characters Excel rejects and truncates to its limit
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, name)
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}

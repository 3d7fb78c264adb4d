// Package roster reads and writes membership files (CSV and XLSX exports
// with a header row).
package roster

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/atx-organizing/district-cli/internal/model"
)

// SkippedRow records a source row the reader could not represent at all.
// Rows that merely lack address fields are NOT skipped here; they stay in
// Members and the pipeline marks their district unknown.
type SkippedRow struct {
	Row    int
	Reason string
}

// Roster is a parsed membership file.
type Roster struct {
	Header  []string
	Members []model.Member
	Skipped []SkippedRow
}

// ReadOptions configures parsing.
type ReadOptions struct {
	Format    string // "csv" or "xlsx"; empty selects by file extension
	Encoding  string // IANA charset name for CSV input; empty means UTF-8
	Delimiter rune   // CSV delimiter; 0 means comma
	Sheet     string // XLSX sheet name; empty means the first sheet
}

// Read parses a membership file into a Roster. Unreadable files and files
// without a header row are fatal; individual malformed rows are collected
// in Skipped and reported by the caller.
func Read(path string, opts ReadOptions) (*Roster, error) {
	format := opts.Format
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".xlsx":
			format = "xlsx"
		default:
			format = "csv"
		}
	}

	switch format {
	case "csv":
		return readCSV(path, opts)
	case "xlsx":
		return readXLSX(path, opts)
	default:
		return nil, eris.Errorf("roster: unsupported format %q", format)
	}
}

func readCSV(path string, opts ReadOptions) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var r io.Reader = f
	if opts.Encoding != "" {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "roster: unknown encoding %q", opts.Encoding)
		}
		r = enc.NewDecoder().Reader(f)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // exports often have ragged rows

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Errorf("roster: %s is empty", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "roster: read header of %s", path)
	}
	header = cleanHeader(header)

	roster := &Roster{Header: header}
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			roster.Skipped = append(roster.Skipped, SkippedRow{Row: row, Reason: err.Error()})
			continue
		}
		roster.Members = append(roster.Members, rowToMember(row, header, record))
	}

	logParsed(path, roster)
	return roster, nil
}

func readXLSX(path string, opts ReadOptions) (*Roster, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roster: open %s", path)
	}

	var sheet *xlsx.Sheet
	if opts.Sheet != "" {
		s, ok := f.Sheet[opts.Sheet]
		if !ok {
			return nil, eris.Errorf("roster: sheet %q not found in %s", opts.Sheet, path)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("roster: %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}

	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("roster: %s is empty", path)
	}

	header := cleanHeader(rowToStrings(sheet.Rows[0]))
	roster := &Roster{Header: header}

	for i, xrow := range sheet.Rows[1:] {
		roster.Members = append(roster.Members, rowToMember(i+1, header, rowToStrings(xrow)))
	}

	logParsed(path, roster)
	return roster, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// rowToMember maps cells onto header columns. Missing trailing cells become
// absent fields; extra cells are dropped.
func rowToMember(row int, header, record []string) model.Member {
	fields := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(record) {
			fields[col] = record[i]
		}
	}
	return model.Member{Row: row, Fields: fields}
}

// cleanHeader trims cells and strips a UTF-8 BOM from the first column.
func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

func logParsed(path string, roster *Roster) {
	zap.L().Info("roster parsed",
		zap.String("path", path),
		zap.Int("members", len(roster.Members)),
		zap.Int("skipped", len(roster.Skipped)),
	)
	for _, s := range roster.Skipped {
		zap.L().Warn("roster: unparseable row",
			zap.Int("row", s.Row),
			zap.String("reason", s.Reason),
		)
	}
}

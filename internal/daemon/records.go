package daemon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"shelf/internal/library"
	"shelf/internal/logging"
	"shelf/internal/services"
)

// authorSeparator splits multi-author CSV cells.
const authorSeparator = ";"

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Imported []int64
	Skipped  int
}

// ImportCSV loads records from a CSV file with a title,authors,isbn header
// (publication_year optional). Rows with an empty title are counted as
// skipped rather than aborting the import.
func (d *Daemon) ImportCSV(ctx context.Context, path string) (ImportResult, error) {
	result := ImportResult{}

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return result, services.Wrap(services.ErrValidation, "daemon", "import", "csv path is required", nil)
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return result, fmt.Errorf("resolve csv path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return result, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return result, fmt.Errorf("read csv header: %w", err)
	}
	columns := columnIndexes(header)
	if _, ok := columns["title"]; !ok {
		return result, services.Wrap(services.ErrValidation, "daemon", "import", "csv header must include a title column", nil)
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read csv row: %w", err)
		}

		record := recordFromRow(row, columns)
		if strings.TrimSpace(record.Title) == "" {
			result.Skipped++
			continue
		}
		inserted, err := d.records.Insert(ctx, record)
		if err != nil {
			return result, fmt.Errorf("insert record %q: %w", record.Title, err)
		}
		result.Imported = append(result.Imported, inserted.ID)
	}

	d.logger.Info("csv import complete",
		logging.String("path", absPath),
		logging.Int("imported", len(result.Imported)),
		logging.Int("skipped", result.Skipped),
		logging.String(logging.FieldEventType, "import_completed"),
	)
	return result, nil
}

func columnIndexes(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return columns
}

func recordFromRow(row []string, columns map[string]int) *library.Record {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	record := &library.Record{
		Title: cell("title"),
		ISBN:  cell("isbn"),
	}
	if authors := cell("authors"); authors != "" {
		for _, author := range strings.Split(authors, authorSeparator) {
			if author = strings.TrimSpace(author); author != "" {
				record.Authors = append(record.Authors, author)
			}
		}
	}
	if year := cell("publication_year"); year != "" {
		if parsed, err := strconv.Atoi(year); err == nil {
			record.PublicationYear = parsed
		}
	}
	return record
}

// AddRecord inserts a single record.
func (d *Daemon) AddRecord(ctx context.Context, record *library.Record) (*library.Record, error) {
	inserted, err := d.records.Insert(ctx, record)
	if err != nil {
		return nil, err
	}
	d.logger.Info("record added",
		logging.Int64(logging.FieldRecordID, inserted.ID),
		logging.String("title", inserted.Title),
		logging.String(logging.FieldEventType, "record_added"),
	)
	return inserted, nil
}

// ListRecords returns all library records.
func (d *Daemon) ListRecords(ctx context.Context) ([]*library.Record, error) {
	return d.records.List(ctx)
}

// GetRecord returns a record by ID, or nil when missing.
func (d *Daemon) GetRecord(ctx context.Context, id int64) (*library.Record, error) {
	return d.records.GetByID(ctx, id)
}

// RemoveRecord deletes a record.
func (d *Daemon) RemoveRecord(ctx context.Context, id int64) (bool, error) {
	return d.records.Remove(ctx, id)
}

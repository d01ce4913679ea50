// Package events reads raw search click/impression events from CSV files,
// optionally inside a zip archive, from disk or over HTTP.
//
// Rows have the positional columns query_id, position, num_results, clicked,
// doc_id. The first row is a header and is skipped.
package events

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// Columns is the expected header of an event file.
var Columns = []string{"query_id", "position", "num_results", "clicked", "doc_id"}

// ParseError reports a malformed row.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ReadFile reads all events from path. Files ending in .zip are read from the
// first CSV entry of the archive.
func ReadFile(path string) ([]models.RawEvent, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return readZip(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	events, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return events, nil
}

func readZip(path string) ([]models.RawEvent, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer zr.Close()

	return readArchive(&zr.Reader, path)
}

// readArchive reads the first CSV entry of an archive.
func readArchive(zr *zip.Reader, name string) ([]models.RawEvent, error) {
	var entry *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("archive %s contains no CSV file", name)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s in %s: %w", entry.Name, name, err)
	}
	defer rc.Close()

	events, err := Read(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s in %s: %w", entry.Name, name, err)
	}
	return events, nil
}

// Read parses events from r. The header row is skipped; a data row with
// unparsable fields aborts the read with a *ParseError.
func Read(r io.Reader) ([]models.RawEvent, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var events []models.RawEvent
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// *csv.ParseError carries its own line.
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		e, err := parseRecord(record)
		if err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		events = append(events, e)
	}
	return events, nil
}

func parseRecord(record []string) (models.RawEvent, error) {
	position, err := strconv.Atoi(strings.TrimSpace(record[1]))
	if err != nil {
		return models.RawEvent{}, fmt.Errorf("invalid position %q", record[1])
	}
	size, err := strconv.Atoi(strings.TrimSpace(record[2]))
	if err != nil {
		return models.RawEvent{}, fmt.Errorf("invalid num_results %q", record[2])
	}
	clicked, err := parseClicked(strings.TrimSpace(record[3]))
	if err != nil {
		return models.RawEvent{}, err
	}

	return models.RawEvent{
		QueryID:       record[0],
		DocumentID:    record[4],
		Position:      position,
		ResultSetSize: size,
		Clicked:       clicked,
	}, nil
}

// parseClicked accepts boolean spellings and 0/1 written as integers or floats.
func parseClicked(s string) (bool, error) {
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && (f == 0 || f == 1) {
		return f == 1, nil
	}
	return false, fmt.Errorf("invalid clicked %q", s)
}

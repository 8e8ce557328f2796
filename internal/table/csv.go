package table

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ReadCSV loads a comma-separated UTF-8 file with a header row.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "table: open %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "table: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("table: %s has no header row", path)
	}

	t := New(records[0]...)
	for _, rec := range records[1:] {
		if len(rec) != len(t.Cols) {
			return nil, eris.Errorf("table: %s: row has %d fields, want %d", path, len(rec), len(t.Cols))
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// WriteCSV writes the table as a comma-separated UTF-8 file with a header
// row, creating parent directories as needed.
func (t *Table) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "table: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "table: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Cols); err != nil {
		return eris.Wrapf(err, "table: write header %s", path)
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "table: write row %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "table: flush %s", path)
	}
	return nil
}

package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shpitdev/catalog-attribute-enricher/internal/inference"
)

// ErrMissingColumn is returned when a required column is absent from the header.
var ErrMissingColumn = errors.New("missing required column")

// Columns names the catalog columns the pipeline reads and writes.
type Columns struct {
	ID     string `yaml:"id"`
	Image  string `yaml:"image"`
	Result string `yaml:"result"`
}

func DefaultColumns() Columns {
	return Columns{ID: "id", Image: "image", Result: "gemini_attributes"}
}

func (c Columns) withDefaults() Columns {
	d := DefaultColumns()
	if strings.TrimSpace(c.ID) == "" {
		c.ID = d.ID
	}
	if strings.TrimSpace(c.Image) == "" {
		c.Image = d.Image
	}
	if strings.TrimSpace(c.Result) == "" {
		c.Result = d.Result
	}
	return c
}

// Item is one catalog record as seen by the runner.
type Item struct {
	// Index is the record position in the catalog, starting at 0.
	Index  int
	ID     string
	Image  string
	Result string
}

// Pending reports whether the item still needs processing. Only an empty result is
// pending; any other value, whitespace included, counts as processed.
func (it Item) Pending() bool {
	return it.Result == ""
}

// Errored reports whether the item was processed and holds an error marker.
func (it Item) Errored() bool {
	return inference.IsMarker(it.Result)
}

// Counts summarizes the catalog state.
type Counts struct {
	Total   int
	Pending int
	Done    int
	Errored int
}

// Processed returns the number of items with any result.
func (c Counts) Processed() int {
	return c.Done + c.Errored
}

func countItems(items []Item) Counts {
	c := Counts{Total: len(items)}
	for _, it := range items {
		switch {
		case it.Pending():
			c.Pending++
		case it.Errored():
			c.Errored++
		default:
			c.Done++
		}
	}
	return c
}

func pendingItems(items []Item) []Item {
	var out []Item
	for _, it := range items {
		if it.Pending() {
			out = append(out, it)
		}
	}
	return out
}

// CSVStore is a catalog backed by a CSV file. Every commit rewrites the whole file
// atomically. Columns other than the result column are preserved as read.
//
// A CSVStore has a single writer; it is not safe for concurrent use.
type CSVStore struct {
	path   string
	cols   Columns
	header []string
	rows   [][]string

	idIdx     int
	imageIdx  int
	resultIdx int
}

// Open loads the catalog. When dest exists it is the resume source; otherwise source
// seeds the catalog. Commits always go to dest. An empty dest means source.
func Open(source, dest string, cols Columns) (*CSVStore, error) {
	cols = cols.withDefaults()
	if dest == "" {
		dest = source
	}

	from := source
	if _, err := os.Stat(dest); err == nil {
		from = dest
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat catalog output: %w", err)
	}

	f, err := os.Open(from)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	s, err := read(f, cols)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", from, err)
	}
	s.path = dest
	return s, nil
}

func read(r io.Reader, cols Columns) (*CSVStore, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	s := &CSVStore{cols: cols, header: header}
	s.idIdx = columnIndex(header, cols.ID)
	if s.idIdx < 0 {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, cols.ID)
	}
	s.imageIdx = columnIndex(header, cols.Image)
	if s.imageIdx < 0 {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, cols.Image)
	}
	s.resultIdx = columnIndex(header, cols.Result)
	if s.resultIdx < 0 {
		s.header = append(s.header, cols.Result)
		s.resultIdx = len(s.header) - 1
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		for len(rec) < len(s.header) {
			rec = append(rec, "")
		}
		s.rows = append(s.rows, rec)
	}
	return s, nil
}

func columnIndex(header []string, name string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

// Path returns the file commits are written to.
func (s *CSVStore) Path() string {
	return s.path
}

func (s *CSVStore) Columns() Columns {
	return s.cols
}

// Header returns a copy of the CSV header, including the result column.
func (s *CSVStore) Header() []string {
	return append([]string(nil), s.header...)
}

// Items returns every item in catalog order.
func (s *CSVStore) Items() []Item {
	out := make([]Item, 0, len(s.rows))
	for i, rec := range s.rows {
		out = append(out, Item{
			Index:  i,
			ID:     strings.TrimSpace(rec[s.idIdx]),
			Image:  strings.TrimSpace(rec[s.imageIdx]),
			Result: rec[s.resultIdx],
		})
	}
	return out
}

// Pending returns the items with an empty result, in catalog order.
func (s *CSVStore) Pending() []Item {
	return pendingItems(s.Items())
}

func (s *CSVStore) Counts() Counts {
	return countItems(s.Items())
}

// Commit sets the item's result and durably persists the full catalog before
// returning.
func (s *CSVStore) Commit(it Item) error {
	if it.Index < 0 || it.Index >= len(s.rows) {
		return fmt.Errorf("commit item %q: index %d out of range", it.ID, it.Index)
	}
	prev := s.rows[it.Index][s.resultIdx]
	s.rows[it.Index][s.resultIdx] = it.Result
	if err := s.flush(); err != nil {
		s.rows[it.Index][s.resultIdx] = prev
		return fmt.Errorf("commit item %q: %w", it.ID, err)
	}
	return nil
}

// Requeue clears error markers so the affected items become pending again. With no
// markers every ERROR_* result is cleared; otherwise only results starting with one
// of the given markers. It returns the number of cleared items.
func (s *CSVStore) Requeue(markers ...string) (int, error) {
	n := 0
	for _, rec := range s.rows {
		res := rec[s.resultIdx]
		if !inference.IsMarker(res) || !matchesMarker(res, markers) {
			continue
		}
		rec[s.resultIdx] = ""
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.flush(); err != nil {
		return 0, fmt.Errorf("requeue: %w", err)
	}
	return n, nil
}

func matchesMarker(result string, markers []string) bool {
	if len(markers) == 0 {
		return true
	}
	result = strings.TrimSpace(result)
	for _, m := range markers {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if !strings.HasPrefix(m, inference.MarkerPrefix) {
			m = inference.MarkerPrefix + m
		}
		if result == m || strings.HasPrefix(result, m+":") {
			return true
		}
	}
	return false
}

// flush writes the snapshot to a temp file in the same directory, syncs it and
// renames it over the catalog.
func (s *CSVStore) flush() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(s.header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(s.rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(s.path); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	committed = true
	return nil
}

package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestOpen_AddsResultColumnAndPreservesOthers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.csv")
	writeFile(t, path, "\ufeffid,name,image,price\n1,\"Chair, oak\",1.jpg,10\n2,Table,2.jpg,20\n")

	s, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := strings.Join(s.Header(), ","); got != "id,name,image,price,gemini_attributes" {
		t.Fatalf("header=%s", got)
	}
	items := s.Items()
	if len(items) != 2 || items[0].ID != "1" || items[0].Image != "1.jpg" || !items[0].Pending() {
		t.Fatalf("items=%+v", items)
	}

	items[0].Result = "red, oak"
	if err := s.Commit(items[0]); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	want := "id,name,image,price,gemini_attributes\n1,\"Chair, oak\",1.jpg,10,\"red, oak\"\n2,Table,2.jpg,20,\n"
	if got := readFile(t, path); got != want {
		t.Fatalf("file after commit:\n%s\nwant:\n%s", got, want)
	}
}

func TestOpen_MissingRequiredColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.csv")
	writeFile(t, path, "id,picture\n1,a.jpg\n")

	_, err := Open(path, "", Columns{})
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	if !strings.Contains(err.Error(), `"image"`) {
		t.Fatalf("error should name the column: %v", err)
	}

	s, err := Open(path, "", Columns{Image: "Picture"})
	if err != nil {
		t.Fatalf("custom column: %v", err)
	}
	if s.Items()[0].Image != "a.jpg" {
		t.Fatalf("items=%+v", s.Items())
	}
}

func TestCommit_ResumeSkipsProcessedItems(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.csv")
	writeFile(t, path, "id,image,gemini_attributes\n1,1.jpg,\n2,2.jpg,\n3,3.jpg,\n")

	s, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pending := s.Pending()
	pending[0].Result = "blue"
	if err := s.Commit(pending[0]); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	pending[1].Result = "ERROR_MISSING_INPUT: missing input"
	if err := s.Commit(pending[1]); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Reopen as a later run would.
	s2, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	left := s2.Pending()
	if len(left) != 1 || left[0].ID != "3" || left[0].Index != 2 {
		t.Fatalf("pending after resume=%+v", left)
	}
	c := s2.Counts()
	if c != (Counts{Total: 3, Pending: 1, Done: 1, Errored: 1}) || c.Processed() != 2 {
		t.Fatalf("counts=%+v", c)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestOpen_SeparateOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	writeFile(t, in, "id,image\n1,1.jpg\n2,2.jpg\n")

	s, err := Open(in, out, Columns{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Path() != out {
		t.Fatalf("path=%s", s.Path())
	}
	it := s.Pending()[0]
	it.Result = "green"
	if err := s.Commit(it); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := readFile(t, in); got != "id,image\n1,1.jpg\n2,2.jpg\n" {
		t.Fatalf("input modified: %q", got)
	}

	// The output is now the resume source.
	s2, err := Open(in, out, Columns{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if p := s2.Pending(); len(p) != 1 || p[0].ID != "2" {
		t.Fatalf("pending=%+v", p)
	}
}

func TestCommit_FailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.csv")
	writeFile(t, path, "id,image,gemini_attributes\n1,1.jpg,\n")

	s, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.path = filepath.Join(dir, "missing-dir", "catalog.csv")

	it := s.Pending()[0]
	it.Result = "x"
	if err := s.Commit(it); err == nil {
		t.Fatalf("expected commit error")
	}
	if !s.Items()[0].Pending() {
		t.Fatalf("failed commit must not leave the item processed in memory")
	}
	if got := readFile(t, path); got != "id,image,gemini_attributes\n1,1.jpg,\n" {
		t.Fatalf("snapshot changed: %q", got)
	}
}

func TestOpen_WhitespaceResultIsProcessed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.csv")
	writeFile(t, path, "id,image,gemini_attributes\n1,a.png,\n2,b.png,  \n")

	s, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pending := s.Pending()
	if len(pending) != 1 || pending[0].ID != "1" {
		t.Fatalf("pending=%+v want only item 1", pending)
	}
	if c := s.Counts(); c.Pending != 1 || c.Done != 1 {
		t.Fatalf("counts=%+v", c)
	}
}

func TestCommit_PreservesFileMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.csv")
	writeFile(t, path, "id,image,gemini_attributes\n1,1.jpg,\n")
	if err := os.Chmod(path, 0o640); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	s, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	it := s.Pending()[0]
	it.Result = "x"
	if err := s.Commit(it); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got := fi.Mode().Perm(); got != 0o640 {
		t.Fatalf("mode after commit=%v want %v", got, os.FileMode(0o640))
	}
}

func TestRequeue(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.csv")
	writeFile(t, path, strings.Join([]string{
		"id,image,gemini_attributes",
		"1,1.jpg,ok text",
		"2,2.jpg,ERROR_QUOTA_EXCEEDED: 429 RESOURCE_EXHAUSTED",
		"3,3.jpg,ERROR_MISSING_INPUT: missing input",
		"4,4.jpg,ERROR_API: boom",
		"5,5.jpg,",
	}, "\n")+"\n")

	s, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := s.Requeue("quota_exceeded", "ERROR_API")
	if err != nil || n != 2 {
		t.Fatalf("Requeue=%d err=%v", n, err)
	}
	ids := func(items []Item) string {
		var out []string
		for _, it := range items {
			out = append(out, it.ID)
		}
		return strings.Join(out, ",")
	}
	if got := ids(s.Pending()); got != "2,4,5" {
		t.Fatalf("pending=%s", got)
	}

	n, err = s.Requeue()
	if err != nil || n != 1 {
		t.Fatalf("Requeue all=%d err=%v", n, err)
	}
	s2, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := ids(s2.Pending()); got != "2,3,4,5" {
		t.Fatalf("persisted pending=%s", got)
	}
	if s2.Items()[0].Result != "ok text" {
		t.Fatalf("successful result cleared")
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore([]Item{{Index: 9, ID: "a", Image: "a.jpg"}, {ID: "b", Image: "b.jpg"}})
	p := m.Pending()
	if len(p) != 2 || p[0].Index != 0 || p[1].Index != 1 {
		t.Fatalf("pending=%+v", p)
	}
	p[1].Result = "ERROR_API: x"
	if err := m.Commit(p[1]); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if c := m.Counts(); c.Pending != 1 || c.Errored != 1 {
		t.Fatalf("counts=%+v", c)
	}
	if err := m.Commit(Item{Index: 5}); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestExportXLSX(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.csv")
	writeFile(t, path, "id,image,gemini_attributes\n1,1.jpg,red\n2,2.jpg,ERROR_API: x\n3,3.jpg,\n")

	s, err := Open(path, "", Columns{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out := filepath.Join(dir, "export", "catalog.xlsx")
	if err := s.ExportXLSX(out); err != nil {
		t.Fatalf("ExportXLSX: %v", err)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows=%v", rows)
	}
	if strings.Join(rows[0], ",") != "id,image,gemini_attributes,status" {
		t.Fatalf("header=%v", rows[0])
	}
	wantStatus := []string{StatusDone, StatusError, StatusPending}
	for i, want := range wantStatus {
		row := rows[i+1]
		if got := row[len(row)-1]; got != want {
			t.Fatalf("row %d status=%q want %q", i+1, got, want)
		}
	}
}

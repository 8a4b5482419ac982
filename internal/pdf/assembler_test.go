package pdf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeEngine records the HTML it is asked to convert and emulates conversion
// by copying the HTML into the output file. Merge concatenates inputs.
type fakeEngine struct {
	mu        sync.Mutex
	converted []string
	failHTML  bool
	failMerge bool
}

func (e *fakeEngine) HTMLToPDF(_ context.Context, htmlPath, outPath string) error {
	if e.failHTML {
		return errors.New("convert failed")
	}
	data, err := os.ReadFile(htmlPath) //nolint:gosec // test-controlled path
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.converted = append(e.converted, string(data))
	e.mu.Unlock()
	return os.WriteFile(outPath, data, 0o600)
}

func (e *fakeEngine) Merge(_ context.Context, inputs []string, outPath string) error {
	if e.failMerge {
		return errors.New("merge failed")
	}
	var out []byte
	for _, in := range inputs {
		data, err := os.ReadFile(in) //nolint:gosec // test-controlled path
		if err != nil {
			return err
		}
		out = append(out, data...)
	}
	return os.WriteFile(outPath, out, 0o600)
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestBuildCoverContainsTitle(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAssembler(eng)
	dir := t.TempDir()
	out := filepath.Join(dir, "cover.pdf")

	if err := a.BuildCover(context.Background(), "My Great Book", out); err != nil {
		t.Fatalf("build cover: %v", err)
	}
	data, err := os.ReadFile(out) //nolint:gosec // test-controlled path
	if err != nil {
		t.Fatalf("read cover: %v", err)
	}
	if !strings.Contains(string(data), "My Great Book") {
		t.Fatalf("cover should contain the title, got: %s", data)
	}
	// the staged HTML must not survive the build
	for _, name := range listFiles(t, dir) {
		if strings.HasSuffix(name, ".html") {
			t.Fatalf("leftover temp html: %s", name)
		}
	}
}

func TestBuildCoverEscapesTitle(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAssembler(eng)
	out := filepath.Join(t.TempDir(), "cover.pdf")

	if err := a.BuildCover(context.Background(), `<script>"bad"</script>`, out); err != nil {
		t.Fatalf("build cover: %v", err)
	}
	data, _ := os.ReadFile(out) //nolint:gosec // test-controlled path
	if strings.Contains(string(data), "<script>") {
		t.Fatalf("title must be escaped in the cover html")
	}
}

func TestBuildTOCEnumeratesPagesInOrder(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAssembler(eng)
	out := filepath.Join(t.TempDir(), "toc.pdf")

	if err := a.BuildTOC(context.Background(), []string{"Alpha", "Beta", "Gamma"}, out); err != nil {
		t.Fatalf("build toc: %v", err)
	}
	data, err := os.ReadFile(out) //nolint:gosec // test-controlled path
	if err != nil {
		t.Fatalf("read toc: %v", err)
	}
	content := string(data)
	for _, want := range []string{"1. Alpha", "2. Beta", "3. Gamma"} {
		if !strings.Contains(content, want) {
			t.Fatalf("toc missing entry %q:\n%s", want, content)
		}
	}
	if strings.Index(content, "1. Alpha") > strings.Index(content, "3. Gamma") {
		t.Fatalf("toc entries out of order")
	}
}

func TestBuildFailureLeavesNoOutput(t *testing.T) {
	eng := &fakeEngine{failHTML: true}
	a := NewAssembler(eng)
	dir := t.TempDir()
	out := filepath.Join(dir, "cover.pdf")

	if err := a.BuildCover(context.Background(), "Title", out); err == nil {
		t.Fatalf("expected build error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("expected no output file after failed build")
	}
	if got := listFiles(t, dir); len(got) != 0 {
		t.Fatalf("expected empty dir after failed build, got %v", got)
	}
}

func TestMergePreservesInputOrder(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAssembler(eng)
	dir := t.TempDir()

	inputs := make([]string, 0, 3)
	for _, part := range []string{"COVER|", "TOC|", "PAGE-A|"} {
		p := filepath.Join(dir, part+".pdf")
		if err := os.WriteFile(p, []byte(part), 0o600); err != nil {
			t.Fatalf("write part: %v", err)
		}
		inputs = append(inputs, p)
	}
	out := filepath.Join(dir, "book", "Book.pdf")
	if err := a.Merge(context.Background(), inputs, out); err != nil {
		t.Fatalf("merge: %v", err)
	}
	data, err := os.ReadFile(out) //nolint:gosec // test-controlled path
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	if string(data) != "COVER|TOC|PAGE-A|" {
		t.Fatalf("merged content out of order: %s", data)
	}
}

func TestMergeFailureIsAllOrNothing(t *testing.T) {
	eng := &fakeEngine{failMerge: true}
	a := NewAssembler(eng)
	dir := t.TempDir()

	part := filepath.Join(dir, "part.pdf")
	if err := os.WriteFile(part, []byte("x"), 0o600); err != nil {
		t.Fatalf("write part: %v", err)
	}
	out := filepath.Join(dir, "out", "Book.pdf")
	if err := a.Merge(context.Background(), []string{part}, out); err == nil {
		t.Fatalf("expected merge error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("expected no file at output path after failed merge")
	}
	for _, name := range listFiles(t, filepath.Dir(out)) {
		if strings.HasPrefix(name, ".merge_") {
			t.Fatalf("leftover merge temp file: %s", name)
		}
	}
}

func TestMergeRejectsEmptyInput(t *testing.T) {
	a := NewAssembler(&fakeEngine{})
	if err := a.Merge(context.Background(), nil, filepath.Join(t.TempDir(), "Book.pdf")); err == nil {
		t.Fatalf("expected error for empty input list")
	}
}

package pdf

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	fileutil "wikibook/internal/file"
)

var coverTemplate = template.Must(template.New("cover").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <style>
    body { text-align: center; font-family: Arial, sans-serif; padding-top: 30%; height: 100vh; background-color: #f9f9f9; }
    .main-title { font-size: 36px; color: #333; margin-bottom: 30px; font-weight: bold; }
    .subtitle { font-size: 24px; color: #666; margin-bottom: 60px; }
    .publisher { font-size: 18px; color: #888; margin-top: 100px; }
    .date { font-size: 16px; color: #888; margin-top: 20px; }
  </style>
</head>
<body>
  <div class="main-title">{{.Title}}</div>
  <div class="subtitle">A collection of selected articles</div>
  <div class="publisher">Generated from the wiki encyclopedia</div>
  <div class="date">{{.Date}}</div>
</body>
</html>
`))

var tocTemplate = template.Must(template.New("toc").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <style>
    body { font-family: Arial, sans-serif; margin: 40px; }
    h1 { text-align: center; font-size: 24px; margin-bottom: 30px; }
    .toc { margin: 20px 0; }
    .toc-item { margin: 15px 0; font-size: 18px; }
  </style>
</head>
<body>
  <h1>Table of Contents</h1>
  <div class="toc">
{{- range .Entries}}
    <div class="toc-item">{{.Position}}. {{.Title}}</div>
{{- end}}
  </div>
</body>
</html>
`))

// Assembler builds the auxiliary book pages and merges the ordered parts
// into the final artifact.
type Assembler struct {
	engine Engine
}

func NewAssembler(engine Engine) *Assembler {
	return &Assembler{engine: engine}
}

// BuildCover writes a single centered cover page PDF to outPath.
func (a *Assembler) BuildCover(ctx context.Context, title, outPath string) error {
	data := struct {
		Title string
		Date  string
	}{Title: title, Date: time.Now().Format("January 2006")}
	return a.renderTemplate(ctx, coverTemplate, data, outPath)
}

type tocEntry struct {
	Position int
	Title    string
}

// BuildTOC writes a table-of-contents PDF enumerating pages in order,
// 1-indexed.
func (a *Assembler) BuildTOC(ctx context.Context, pages []string, outPath string) error {
	entries := make([]tocEntry, 0, len(pages))
	for i, p := range pages {
		entries = append(entries, tocEntry{Position: i + 1, Title: p})
	}
	data := struct{ Entries []tocEntry }{Entries: entries}
	return a.renderTemplate(ctx, tocTemplate, data, outPath)
}

// Merge concatenates the inputs in list order into outPath. The merge runs
// against a temp file in the destination directory which is renamed into
// place, so either no file exists at outPath or a fully written one does.
func (a *Assembler) Merge(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return errors.New("no documents to merge")
	}
	if err := fileutil.EnsureDir(filepath.Dir(outPath)); err != nil {
		return err
	}
	tmpPath := filepath.Join(filepath.Dir(outPath), fmt.Sprintf(".merge_%s.pdf", uuid.NewString()[:8]))
	if err := a.engine.Merge(ctx, inputs, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := fileutil.MoveAtomic(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (a *Assembler) renderTemplate(ctx context.Context, tpl *template.Template, data any, outPath string) error {
	var buf strings.Builder
	if err := tpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("fill template: %w", err)
	}
	tmpHTML := filepath.Join(filepath.Dir(outPath), fmt.Sprintf("%s_%s.html", tpl.Name(), uuid.NewString()[:8]))
	if err := os.WriteFile(tmpHTML, []byte(buf.String()), 0o600); err != nil {
		return fmt.Errorf("write %s html: %w", tpl.Name(), err)
	}
	defer func() {
		if err := os.Remove(tmpHTML); err != nil {
			log.Warn().Str("path", tmpHTML).Err(err).Msg("remove temp html failed")
		}
	}()
	if err := a.engine.HTMLToPDF(ctx, tmpHTML, outPath); err != nil {
		_ = os.Remove(outPath)
		return err
	}
	return nil
}

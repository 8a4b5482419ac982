package pdf

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	fileutil "wikibook/internal/file"
)

const maxPageBodyBytes = 20 << 20 // refuse to buffer pathological articles

// Renderer turns one wiki page identifier into one standalone PDF with a
// heading block injected above the article content.
type Renderer struct {
	client *http.Client
	engine Engine
}

func NewRenderer(engine Engine, fetchTimeout time.Duration) *Renderer {
	return &Renderer{
		client: &http.Client{Timeout: fetchTimeout},
		engine: engine,
	}
}

// PageURL builds the content-source address for a page identifier.
func PageURL(sourceBase, pageID string) string {
	return strings.TrimRight(sourceBase, "/") + "/" + url.PathEscape(pageID) + "/html"
}

// RenderPage fetches the page, injects the heading, and converts the result
// to a PDF at outPath. On failure no output file remains and the temporary
// HTML staged next to outPath is removed.
func (r *Renderer) RenderPage(ctx context.Context, pageID, sourceBase, outPath string) error {
	pageHTML, err := r.fetch(ctx, PageURL(sourceBase, pageID))
	if err != nil {
		return err
	}

	tmpHTML := filepath.Join(filepath.Dir(outPath), fmt.Sprintf("page_%s.html", uuid.NewString()[:8]))
	if err := fileutil.CopyAtomic(tmpHTML, strings.NewReader(injectHeading(pageHTML, pageID))); err != nil {
		return fmt.Errorf("write page html: %w", err)
	}
	defer func() {
		if err := os.Remove(tmpHTML); err != nil {
			log.Warn().Str("path", tmpHTML).Err(err).Msg("remove temp html failed")
		}
	}()

	if err := r.engine.HTMLToPDF(ctx, tmpHTML, outPath); err != nil {
		_ = os.Remove(outPath)
		return err
	}
	return nil
}

func (r *Renderer) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch page: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read page body: %w", err)
	}
	return string(body), nil
}

// injectHeading splices a title block immediately after the opening <body>
// tag, or prepends it when the document has none.
func injectHeading(pageHTML, title string) string {
	heading := fmt.Sprintf(`
<div style="text-align: center; height: 25vh; padding-top: 5%%; margin-bottom: 20px;">
  <h1 style="font-size: 24px; color: #333; margin-bottom: 10px;">%s</h1>
  <div style="font-size: 16px; color: #666;">From the wiki encyclopedia</div>
</div>
`, html.EscapeString(title))

	bodyIdx := strings.Index(pageHTML, "<body")
	if bodyIdx < 0 {
		return heading + pageHTML
	}
	closeIdx := strings.Index(pageHTML[bodyIdx:], ">")
	if closeIdx < 0 {
		return heading + pageHTML
	}
	insertAt := bodyIdx + closeIdx + 1
	return pageHTML[:insertAt] + heading + pageHTML[insertAt:]
}

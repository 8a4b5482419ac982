package pdf

import (
	"context"
	"fmt"

	wkhtmltopdf "github.com/SebastiaanKlippert/go-wkhtmltopdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Engine abstracts the external document conversion engine: one HTML file in,
// one PDF out, plus ordered multi-PDF merge. Tests swap in a fake.
type Engine interface {
	HTMLToPDF(ctx context.Context, htmlPath, outPath string) error
	Merge(ctx context.Context, inputs []string, outPath string) error
}

// page layout matching the output books: A4, UTF-8, 15mm vertical and
// 20mm horizontal margins
const (
	marginVerticalMM   = 15
	marginHorizontalMM = 20
)

type wkhtmlEngine struct{}

// NewEngine returns the production engine backed by the wkhtmltopdf binary
// for conversion and pdfcpu for merging.
func NewEngine() Engine { //nolint:ireturn
	return wkhtmlEngine{}
}

func (wkhtmlEngine) HTMLToPDF(ctx context.Context, htmlPath, outPath string) error {
	gen, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return fmt.Errorf("init wkhtmltopdf: %w", err)
	}
	gen.PageSize.Set(wkhtmltopdf.PageSizeA4)
	gen.MarginTop.Set(marginVerticalMM)
	gen.MarginBottom.Set(marginVerticalMM)
	gen.MarginLeft.Set(marginHorizontalMM)
	gen.MarginRight.Set(marginHorizontalMM)

	page := wkhtmltopdf.NewPage(htmlPath)
	page.Encoding.Set("utf-8")
	gen.AddPage(page)

	if err := gen.CreateContext(ctx); err != nil {
		return fmt.Errorf("convert html: %w", err)
	}
	if err := gen.WriteFile(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func (wkhtmlEngine) Merge(_ context.Context, inputs []string, outPath string) error {
	if err := api.MergeCreateFile(inputs, outPath, false, nil); err != nil {
		return fmt.Errorf("merge pdfs: %w", err)
	}
	return nil
}

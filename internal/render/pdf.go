package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	appLog "printcal/internal/log"
)

// DefaultPDFTimeout bounds a single PDF render.
const DefaultPDFTimeout = 30 * time.Second

// Paper sizes in inches.
var paperSizes = map[string][2]float64{
	"a4":     {8.27, 11.69},
	"letter": {8.5, 11},
}

// PDFOptions defines parameters for a Chromium-based PDF print.
type PDFOptions struct {
	// Paper is "a4" or "letter". Empty means a4.
	Paper string

	// ExecPath overrides the Chrome/Chromium binary. Empty lets chromedp
	// search the usual locations.
	ExecPath string

	// Timeout bounds the entire print operation. If zero,
	// DefaultPDFTimeout is used.
	Timeout time.Duration
}

// PDFRenderer prints the HTML agenda to PDF with headless Chromium.
type PDFRenderer struct {
	opts PDFOptions
}

// NewPDFRenderer returns a PDFRenderer with defaults filled in.
func NewPDFRenderer(opts PDFOptions) (*PDFRenderer, error) {
	if opts.Paper == "" {
		opts.Paper = "a4"
	}
	if _, ok := paperSizes[opts.Paper]; !ok {
		return nil, fmt.Errorf("render: unknown paper size %q", opts.Paper)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPDFTimeout
	}
	return &PDFRenderer{opts: opts}, nil
}

// Render launches a headless Chromium via chromedp, loads the agenda HTML
// into a blank page, waits for the body to signal data-ready="true", and
// prints it to PDF.
func (r *PDFRenderer) Render(parentCtx context.Context, doc Document) (Artifact, error) {
	html, err := HTML(doc)
	if err != nil {
		return Artifact{}, err
	}

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if r.opts.ExecPath != "" {
		allocOpts = append(allocOpts[:len(allocOpts):len(allocOpts)], chromedp.ExecPath(r.opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// Apply timeout to the entire print sequence.
	ctx, timeoutCancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer timeoutCancel()

	size := paperSizes[r.opts.Paper]
	start := time.Now()

	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(html)).Do(ctx)
		}),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(size[0]).
				WithPaperHeight(size[1]).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return Artifact{}, fmt.Errorf("render: chromedp run failed: %w", err)
	}

	appLog.Debug("pdf rendered", "bytes", len(pdf), "paper", r.opts.Paper, "elapsed", time.Since(start).Round(time.Millisecond).String())

	return Artifact{
		Name:        artifactName(doc, "pdf"),
		ContentType: "application/pdf",
		Data:        pdf,
		Day:         doc.Day,
	}, nil
}

// Package pdftext turns uploaded PDF reports into plain text.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotPDF is returned for uploads that do not start with a PDF header.
	ErrNotPDF = errors.New("file is not a PDF")
	// ErrEmptyText means the PDF has no text layer, usually a scanned image.
	ErrEmptyText = errors.New("could not extract text from PDF; ensure the PDF is readable")
)

var pdfMagic = []byte("%PDF-")

type Extractor interface {
	Text(ctx context.Context, pdf []byte) (string, error)
}

// Pdftotext runs poppler's pdftotext binary. When OCR is set, PDFs without
// a text layer are rasterized and read with tesseract instead.
type Pdftotext struct {
	Bin string
	OCR *OCR
}

func NewPdftotext(bin string) *Pdftotext {
	if bin == "" {
		bin = "pdftotext"
	}
	return &Pdftotext{Bin: bin}
}

// Text writes pdf to a temp file and reads the layout-preserved text back
// from stdout. The result is sanitized. An empty result falls back to OCR
// when configured and is ErrEmptyText otherwise.
func (p *Pdftotext) Text(ctx context.Context, pdf []byte) (string, error) {
	if !IsPDF(pdf) {
		return "", ErrNotPDF
	}

	tmp, err := os.CreateTemp("", "healthlens-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(pdf); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	out, err := run(ctx, p.Bin, "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}

	text := Sanitize(out)
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	if p.OCR == nil {
		return "", ErrEmptyText
	}
	text, err = p.OCR.Text(ctx, tmp.Name())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

// OCR reads scanned PDFs: pdftoppm renders each page to PNG and tesseract
// reads the page images.
type OCR struct {
	PdftoppmBin  string
	TesseractBin string
	DPI          int
}

func NewOCR(pdftoppm, tesseract string, dpi int) *OCR {
	if pdftoppm == "" {
		pdftoppm = "pdftoppm"
	}
	if tesseract == "" {
		tesseract = "tesseract"
	}
	if dpi <= 0 {
		dpi = 200
	}
	return &OCR{PdftoppmBin: pdftoppm, TesseractBin: tesseract, DPI: dpi}
}

// Text OCRs the PDF at path page by page and joins the pages that produced
// text.
func (o *OCR) Text(ctx context.Context, path string) (string, error) {
	dir, err := os.MkdirTemp("", "healthlens-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create ocr dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	if _, err := run(ctx, o.PdftoppmBin, "-r", fmt.Sprint(o.DPI), "-png", path, prefix); err != nil {
		return "", fmt.Errorf("pdftoppm: %w", err)
	}
	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return "", fmt.Errorf("list pages: %w", err)
	}
	sort.Strings(pages)

	var chunks []string
	for _, page := range pages {
		out, err := run(ctx, o.TesseractBin, page, "stdout")
		if err != nil {
			return "", fmt.Errorf("tesseract %s: %w", filepath.Base(page), err)
		}
		if t := Sanitize(out); strings.TrimSpace(t) != "" {
			chunks = append(chunks, t)
		}
	}
	return strings.Join(chunks, "\n"), nil
}

func run(ctx context.Context, bin string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

func IsPDF(b []byte) bool {
	return bytes.HasPrefix(b, pdfMagic)
}

// Sanitize drops NUL bytes, which Postgres text columns reject, and applies
// NFKC so ligatures and full-width digits read as plain ASCII. Form feeds
// between pages become newlines.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\f", "\n")
	return norm.NFKC.String(s)
}

package pdftext

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Glucose 105 mg/dL", Sanitize("Glu\x00cose １０５ mg/dL"))
	assert.Equal(t, "fine\nnext page", Sanitize("ﬁne\fnext page"))
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7\n...")))
	assert.False(t, IsPDF([]byte("PK\x03\x04")))
	assert.False(t, IsPDF(nil))
}

func TestPdftotextRejectsNonPDF(t *testing.T) {
	_, err := NewPdftotext("").Text(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, ErrNotPDF)
}

// fakeBin writes a shell script standing in for pdftotext.
func fakeBin(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pdftotext")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestPdftotextReadsStdout(t *testing.T) {
	bin := fakeBin(t, `printf 'Cholesterol: 210 mg/dL\000\n'`)
	text, err := NewPdftotext(bin).Text(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "Cholesterol: 210 mg/dL\n", text)
}

func TestPdftotextEmptyText(t *testing.T) {
	bin := fakeBin(t, `printf '  \n\f'`)
	_, err := NewPdftotext(bin).Text(context.Background(), []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestPdftotextFailure(t *testing.T) {
	bin := fakeBin(t, `echo "Syntax Error: broken xref" >&2; exit 1`)
	_, err := NewPdftotext(bin).Text(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken xref")
}

// fakeOCR stands in for pdftoppm rendering two pages and tesseract reading
// them.
func fakeOCR(t *testing.T) *OCR {
	pdftoppm := fakeBin(t, `printf x > "$5-1.png"; printf y > "$5-2.png"`)
	tesseract := fakeBin(t, `case "$1" in
*-1.png) printf 'Glucose 105 mg/dL\n' ;;
*-2.png) printf 'HbA1c ６.１ %%\n' ;;
esac`)
	return NewOCR(pdftoppm, tesseract, 0)
}

func TestPdftotextFallsBackToOCR(t *testing.T) {
	p := NewPdftotext(fakeBin(t, `printf '\f'`))
	p.OCR = fakeOCR(t)

	text, err := p.Text(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "Glucose 105 mg/dL\n\nHbA1c 6.1 %\n", text)
}

func TestOCRNoTextIsEmpty(t *testing.T) {
	p := NewPdftotext(fakeBin(t, `printf ''`))
	p.OCR = NewOCR(fakeBin(t, `printf x > "$5-1.png"`), fakeBin(t, `printf '   \n'`), 300)

	_, err := p.Text(context.Background(), []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestOCRFailure(t *testing.T) {
	p := NewPdftotext(fakeBin(t, `printf ''`))
	p.OCR = NewOCR(fakeBin(t, `echo "Couldn't open file" >&2; exit 1`), "tesseract", 0)

	_, err := p.Text(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyText)
	assert.Contains(t, err.Error(), "Couldn't open file")
}

func TestNewOCRDefaults(t *testing.T) {
	o := NewOCR("", "", 0)
	assert.Equal(t, "pdftoppm", o.PdftoppmBin)
	assert.Equal(t, "tesseract", o.TesseractBin)
	assert.Equal(t, 200, o.DPI)
}

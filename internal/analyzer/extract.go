package analyzer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// maxExtractedChars caps the text handed to the detectors. Pathological
// documents (log archives, dumped spreadsheets) otherwise dominate the
// 180s worker budget.
const maxExtractedChars = 10 * 1024 * 1024

// plainTextExtensions are read directly as text.
var plainTextExtensions = map[string]bool{
	".txt": true, ".csv": true, ".tsv": true, ".json": true,
	".xml": true, ".html": true, ".htm": true, ".md": true,
	".log": true, ".eml": true, ".rtf": true,
}

// ExtractText pulls analyzable text out of the file at path based on its
// extension. Plain-text formats are read directly; PDFs go through the pdf
// reader; remaining office/binary formats fall back to printable-run
// salvage, which finds PII embedded as ASCII in the raw bytes.
func ExtractText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch {
	case plainTextExtensions[ext]:
		return extractPlainText(path)
	case ext == ".pdf":
		return extractPDFText(path)
	default:
		return extractPrintableRuns(path)
	}
}

func extractPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) > maxExtractedChars {
		data = data[:maxExtractedChars]
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	// Mixed encodings still carry ASCII PII.
	return salvagePrintable(data), nil
}

func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	totalPages := r.NumPage()

	for i := 1; i <= totalPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")

		if sb.Len() > maxExtractedChars {
			break
		}
	}

	result := sb.String()
	if len(result) > maxExtractedChars {
		result = result[:maxExtractedChars]
	}
	return result, nil
}

// extractPrintableRuns reads a binary file and keeps runs of printable
// ASCII, the strings(1) approach. Good enough for legacy office formats
// where full parsing is not worth a dependency.
func extractPrintableRuns(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) > maxExtractedChars {
		data = data[:maxExtractedChars]
	}
	return salvagePrintable(data), nil
}

func salvagePrintable(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) / 2)

	runStart := -1
	const minRun = 4
	for i, b := range data {
		printable := (b >= 0x20 && b < 0x7f) || b == '\t'
		if printable {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			if i-runStart >= minRun {
				sb.Write(data[runStart:i])
				sb.WriteByte('\n')
			}
			runStart = -1
		}
	}
	if runStart >= 0 && len(data)-runStart >= minRun {
		sb.Write(data[runStart:])
	}
	return sb.String()
}

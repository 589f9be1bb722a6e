package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// Format is a supported document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// sniffWindow is how many leading bytes are searched for the PDF signature.
const sniffWindow = 10

// Sniff guesses the format from the byte prefix. Anything without the PDF
// signature is assumed to be DOCX.
func Sniff(data []byte) Format {
	head := data[:min(len(data), sniffWindow)]
	if bytes.Contains(head, []byte("%PDF")) {
		return FormatPDF
	}
	return FormatDOCX
}

// ExtractText returns the plain text of a document, trying the sniffed format
// first and the other one second. Empty text is an error.
func ExtractText(data []byte) (string, Format, error) {
	primary := Sniff(data)
	order := []Format{FormatPDF, FormatDOCX}
	if primary == FormatDOCX {
		order = []Format{FormatDOCX, FormatPDF}
	}

	var errs []error
	for _, f := range order {
		text, err := extract(f, data)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				return text, f, nil
			}
			err = errors.New("no text")
		}
		errs = append(errs, fmt.Errorf("%s: %w", f, err))
	}
	return "", primary, fmt.Errorf("extract document text: %w: %w", domain.ErrUnsupported, errors.Join(errs...))
}

func extract(f Format, data []byte) (string, error) {
	if f == FormatPDF {
		return extractPDF(data)
	}
	return extractDOCX(data)
}

func extractPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("word/document.xml not found")
	}

	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return paragraphs(rc)
}

// paragraphs collects w:t runs, one line per w:p.
func paragraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

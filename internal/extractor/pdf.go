package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser handles the document modality: PDF via ledongthuc/pdf and plain
// text files verbatim. Other formats are an extraction failure.
type PDFParser struct {
	httpClient *http.Client
}

func NewPDFParser() *PDFParser {
	return &PDFParser{httpClient: http.DefaultClient}
}

func (p *PDFParser) Parse(ctx context.Context, docRef string) (string, error) {
	ref := strings.ToLower(docRef)
	switch {
	case strings.HasSuffix(ref, ".pdf"):
		return p.parsePDF(ctx, docRef)
	case strings.HasSuffix(ref, ".txt"), strings.HasSuffix(ref, ".md"):
		data, err := p.download(ctx, docRef)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported document format: %s", docRef)
	}
}

func (p *PDFParser) parsePDF(ctx context.Context, docRef string) (string, error) {
	data, err := p.download(ctx, docRef)
	if err != nil {
		return "", err
	}

	// ledongthuc/pdf wants a seekable file on disk.
	tmp, err := os.CreateTemp("", "recall-*.pdf")
	if err != nil {
		return "", fmt.Errorf("error creating temp file: %v", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("error writing temp file: %v", err)
	}

	f, reader, err := pdf.Open(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("error opening pdf: %v", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("error reading pdf page %d: %v", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}

func (p *PDFParser) download(ctx context.Context, ref string) ([]byte, error) {
	// Local paths are allowed so tests and CLI usage can skip the network.
	if !strings.Contains(ref, "://") {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("error reading document: %v", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("error building download request: %v", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading document: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error downloading document: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

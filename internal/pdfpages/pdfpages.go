// Package pdfpages builds sub-documents holding only selected pages.
package pdfpages

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Extractor selects pages from a document.
type Extractor interface {
	// Extract returns a document with the given 1-indexed pages in the given
	// order. Out-of-range pages are dropped; when none remain the source is
	// returned unchanged.
	Extract(doc []byte, pages []int) ([]byte, error)
	// PageCount returns the number of pages in doc.
	PageCount(doc []byte) (int, error)
}

var disableConfigDir sync.Once

// PDFCPU implements Extractor with pdfcpu.
type PDFCPU struct{}

// NewPDFCPU returns a pdfcpu-backed extractor. pdfcpu's on-disk config
// directory is disabled process-wide.
func NewPDFCPU() *PDFCPU {
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFCPU{}
}

func (p *PDFCPU) conf() *pdfmodel.Configuration {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in doc.
func (p *PDFCPU) PageCount(doc []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(doc), p.conf())
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// Extract collects pages into a new document.
func (p *PDFCPU) Extract(doc []byte, pages []int) ([]byte, error) {
	total, err := p.PageCount(doc)
	if err != nil {
		return nil, err
	}

	selected := make([]string, 0, len(pages))
	for _, n := range pages {
		if n < 1 || n > total {
			continue
		}
		selected = append(selected, strconv.Itoa(n))
	}
	if len(selected) == 0 {
		return doc, nil
	}

	var out bytes.Buffer
	if err := api.Collect(bytes.NewReader(doc), &out, selected, p.conf()); err != nil {
		return nil, fmt.Errorf("collect pages %v: %w", selected, err)
	}
	return out.Bytes(), nil
}

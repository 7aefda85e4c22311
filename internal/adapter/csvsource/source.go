// Package csvsource reads the permit export from a URL or a local file.
package csvsource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/jszwec/csvutil"
)

// maxErrorBody bounds how much of a failed response is echoed into the error.
const maxErrorBody = 512

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Source implements pipeline.Extractor over a CSV export. Locations starting
// with http:// or https:// are fetched; "file://" prefixes and bare paths are
// read from disk.
type Source struct {
	location   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Source. timeout bounds each HTTP fetch.
func New(location string, timeout time.Duration, logger *slog.Logger) *Source {
	return &Source{
		location:   location,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Source returns the configured location.
func (s *Source) Source() string {
	return s.location
}

// Extract reads and decodes every row of the export.
func (s *Source) Extract(ctx context.Context) ([]domain.RawPermitRecord, error) {
	start := time.Now()

	rc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	records, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.location, err)
	}

	s.logger.Debug("csv extracted",
		"location", s.location,
		"rows", len(records),
		"duration", time.Since(start),
	)
	return records, nil
}

func (s *Source) open(ctx context.Context) (io.ReadCloser, error) {
	if strings.HasPrefix(s.location, "http://") || strings.HasPrefix(s.location, "https://") {
		return s.fetch(ctx)
	}
	f, err := os.Open(strings.TrimPrefix(s.location, "file://"))
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	return f, nil
}

func (s *Source) fetch(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch csv: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("fetch csv: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return resp.Body, nil
}

// Decode parses a permit CSV with a header row. Unknown columns are ignored
// and missing columns decode as empty strings.
func Decode(r io.Reader) ([]domain.RawPermitRecord, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv has no header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	dec.Map = trimField

	var records []domain.RawPermitRecord
	for {
		var rec domain.RawPermitRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("row %d: %w", len(records)+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func trimField(field, _ string, _ any) string {
	return strings.TrimSpace(field)
}

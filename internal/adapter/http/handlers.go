package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/adapter/xlsx"
	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/couchcryptid/permit-data-service/internal/observability"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	msgNoResult     = "no comparable data"
)

type estimateResponse struct {
	Found               bool              `json:"found"`
	EstimatedFee        *float64          `json:"estimated_fee"`
	EstimatedFeeDisplay string            `json:"estimated_fee_display,omitempty"`
	Method              string            `json:"method,omitempty"`
	Eligible            int               `json:"eligible"`
	Neighbors           []domain.Neighbor `json:"neighbors"`
	Message             string            `json:"message,omitempty"`
}

type summaryResponse struct {
	Dataset *domain.Dataset `json:"dataset"`
	Filter  domain.Filter   `json:"filter"`
	Summary domain.Summary  `json:"summary"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { s.metrics.EstimateDuration.Observe(time.Since(start).Seconds()) }()

	q, err := ParseQuery(r.URL.Query(), s.opts.DefaultK, s.opts.MaxK)
	if err != nil {
		s.metrics.EstimateRequests.WithLabelValues(observability.OutcomeInvalid).Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds := datasetFrom(r.Context())
	est, err := s.estimator.Estimate(ds.Permits, q)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			s.metrics.EstimateRequests.WithLabelValues(observability.OutcomeInvalid).Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("estimate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := estimateResponse{
		Found:        est.Found(),
		EstimatedFee: est.EstimatedFee,
		Method:       est.Method,
		Eligible:     est.Eligible,
		Neighbors:    est.Neighbors,
	}
	if resp.Neighbors == nil {
		resp.Neighbors = []domain.Neighbor{}
	}
	if est.Found() {
		resp.EstimatedFeeDisplay = domain.FormatUSD(*est.EstimatedFee)
		s.metrics.EstimateRequests.WithLabelValues(observability.OutcomeFound).Inc()
	} else {
		resp.Message = msgNoResult
		s.metrics.EstimateRequests.WithLabelValues(observability.OutcomeNoResult).Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ds := datasetFrom(r.Context())
	writeJSON(w, http.StatusOK, summaryResponse{
		Dataset: ds,
		Filter:  f,
		Summary: domain.Summarize(domain.ApplyFilter(ds.Permits, f)),
	})
}

func (s *Server) handleSummaryXLSX(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ds := datasetFrom(r.Context())

	wb := xlsx.NewWorkbook()
	if err := wb.AddSummary(domain.Summarize(domain.ApplyFilter(ds.Permits, f))); err != nil {
		s.logger.Error("build summary workbook", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		s.logger.Error("write summary workbook", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", contentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="permit-summary.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.FilterOptionsOf(datasetFrom(r.Context()).Permits))
}

// ParseQuery builds an estimate query from URL parameters. A missing k uses
// defaultK; a k above maxK is rejected.
func ParseQuery(v url.Values, defaultK, maxK int) (domain.Query, error) {
	q := domain.Query{
		PermitType: strings.TrimSpace(v.Get("permit_type")),
		K:          defaultK,
	}
	var err error
	if q.SquareFeet, err = optionalFloat(v, "square_feet"); err != nil {
		return q, err
	}
	if q.Valuation, err = optionalFloat(v, "valuation"); err != nil {
		return q, err
	}
	if raw := strings.TrimSpace(v.Get("k")); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("%w: k must be an integer, got %q", domain.ErrInvalidQuery, raw)
		}
		q.K = k
	}
	if maxK > 0 && q.K > maxK {
		return q, fmt.Errorf("%w: k must be at most %d, got %d", domain.ErrInvalidQuery, maxK, q.K)
	}
	return q, nil
}

// ParseFilter reads the repeatable zip, year, permit_type and status parameters.
func ParseFilter(v url.Values) (domain.Filter, error) {
	f := domain.Filter{
		ZipCodes:    nonEmpty(v["zip"]),
		PermitTypes: nonEmpty(v["permit_type"]),
		Statuses:    nonEmpty(v["status"]),
	}
	for _, raw := range nonEmpty(v["year"]) {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("year must be an integer, got %q", raw)
		}
		f.Years = append(f.Years, year)
	}
	return f, nil
}

// optionalFloat returns nil when the parameter is absent or blank.
func optionalFloat(v url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number, got %q", domain.ErrInvalidQuery, key, raw)
	}
	return &f, nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

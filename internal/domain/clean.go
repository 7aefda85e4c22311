package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrMissingPermitType rejects rows that cannot take part in any
// per-type aggregate or estimate.
var ErrMissingPermitType = errors.New("permit type is required")

var (
	// zipRe matches the first 5-digit run in an address, e.g.
	// "825 W IRVING BLVD IRVING TX 75060" -> "75060".
	zipRe = regexp.MustCompile(`(\d{5})`)

	// currencyReplacer strips the symbols the export uses around money amounts.
	currencyReplacer = strings.NewReplacer("$", "", ",", "", " ", "")

	// dateLayouts covers the ArcGIS open-data export and the usual fallbacks.
	dateLayouts = []string{
		"2006/01/02 15:04:05-07",
		"2006/01/02 15:04:05",
		"2006/01/02",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
		"01/02/2006 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"01/02/2006",
		"1/2/2006",
	}
)

// ParseRawRecord converts a raw CSV row into a Permit with typed columns.
// Derived fields (zip code, year, duration) are filled by EnrichPermit.
func ParseRawRecord(rec RawPermitRecord) (Permit, error) {
	permitType := strings.TrimSpace(rec.PermitType)
	if permitType == "" {
		return Permit{}, fmt.Errorf("parse permit %q: %w", rec.PermitNumber, ErrMissingPermitType)
	}

	p := Permit{
		PermitNumber: strings.TrimSpace(rec.PermitNumber),
		PermitType:   permitType,
		Status:       strings.TrimSpace(rec.Status),
		Address:      strings.TrimSpace(rec.Address),
		IssuedDate:   parseDate(rec.IssuedDate),
		FinaledDate:  parseDate(rec.FinaledDate),
		Valuation:    parseCurrency(rec.Valuation),
		FeesPaid:     parseCurrency(rec.FeesPaid),
		SquareFeet:   parseMagnitude(rec.SquareFeet),
	}
	p.ID = generateID(p, rec)
	return p, nil
}

// EnrichPermit derives the zip code, issued year and permit duration, and
// stamps the processing time.
func EnrichPermit(p Permit) Permit {
	if p.ZipCode == "" {
		if zip := extractZip(p.Address); zip != "" {
			p.ZipCode = zip
			p.ZipSource = ZipSourceAddress
		}
	}
	if !p.IssuedDate.IsZero() {
		p.Year = p.IssuedDate.Year()
	}
	p.DurationDays = durationDays(p.IssuedDate, p.FinaledDate)
	p.ProcessedAt = clock.Now()
	return p
}

// parseCurrency strips "$", "," and spaces and parses the remainder.
// Returns nil for empty, unparseable, negative or non-finite amounts.
func parseCurrency(s string) *float64 {
	return parseMagnitude(currencyReplacer.Replace(s))
}

// parseMagnitude parses a non-negative numeric column, tolerating thousands
// separators. Returns nil when the value is missing.
func parseMagnitude(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseDate tries each known layout, returning the zero time when none fits.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func extractZip(address string) string {
	m := zipRe.FindStringSubmatch(address)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// durationDays returns whole days from issue to final, floored like a
// calendar-day difference. Negative results are kept; aggregation drops them.
func durationDays(issued, finaled time.Time) *int {
	if issued.IsZero() || finaled.IsZero() {
		return nil
	}
	d := int(math.Floor(finaled.Sub(issued).Hours() / 24))
	return &d
}

// generateID prefers the published permit number and otherwise hashes the
// identifying columns, so re-ingesting the same export yields the same IDs.
func generateID(p Permit, rec RawPermitRecord) string {
	if p.PermitNumber != "" {
		return p.PermitNumber
	}
	input := strings.Join([]string{
		p.PermitType,
		p.Address,
		strings.TrimSpace(rec.IssuedDate),
		strings.TrimSpace(rec.Valuation),
		strings.TrimSpace(rec.FeesPaid),
	}, "|")
	hash := sha256.Sum256([]byte(input))
	return "permit-" + hex.EncodeToString(hash[:8])
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/couchcryptid/permit-data-service/internal/adapter/csvsource"
	"github.com/couchcryptid/permit-data-service/internal/adapter/sqlite"
	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the permits export for integrity problems",
	Long: "Reads the CSV source and checks row parsing, permit identity, value ranges and " +
		"estimator coverage. With --archive it also compares the archived snapshot against the CSV.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		records, err := csvsource.New(sourceFlag, cfg.DatasetFetchTimeout, logger).Extract(ctx)
		if err != nil {
			return err
		}
		permits := cleanAll(records)

		phases := []*phase{
			validateParsing(records),
			validateIdentity(permits),
			validateValues(records, permits),
			validateEstimatorCoverage(permits),
		}
		if archiveFlag != "" {
			archive, err := sqlite.Open(archiveFlag)
			if err != nil {
				return err
			}
			defer archive.Close() //nolint:errcheck // read-only use
			archived, err := archive.Latest(ctx)
			if err != nil {
				return err
			}
			phases = append(phases, validateArchiveParity(permits, archived))
		}

		fmt.Fprintf(os.Stdout, "=== Permit Data Validation: %s ===\n\n", sourceFlag)
		fmt.Fprintf(os.Stdout, "Records: %d CSV rows, %d cleaned permits\n", len(records), len(permits))
		if !report(os.Stdout, phases) {
			return errors.New("validation failed")
		}
		return nil
	},
}

// phase tracks pass/fail for a validation phase. Warnings are reported but
// do not fail the phase.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// cleanAll runs the pipeline's row cleaning without geocoding. Rejected rows
// are dropped.
func cleanAll(records []domain.RawPermitRecord) []domain.Permit {
	permits := make([]domain.Permit, 0, len(records))
	for _, rec := range records {
		p, err := domain.ParseRawRecord(rec)
		if err != nil {
			continue
		}
		permits = append(permits, domain.EnrichPermit(p))
	}
	return permits
}

// line converts a record index to its 1-based file line, counting the header.
func line(i int) int { return i + 2 }

// ── Phase 1: Row Parsing ──

func validateParsing(records []domain.RawPermitRecord) *phase {
	p := &phase{name: "Phase 1: Row Parsing (CSV)"}
	if len(records) == 0 {
		p.errorf("export has no data rows")
		return p
	}
	accepted := 0
	for i, rec := range records {
		if _, err := domain.ParseRawRecord(rec); err != nil {
			p.warnf("line %d (%s): %v", line(i), rec.PermitNumber, err)
			continue
		}
		accepted++
	}
	if accepted == 0 {
		p.errorf("no row has a permit type")
	}
	return p
}

// ── Phase 2: Identity ──

func validateIdentity(permits []domain.Permit) *phase {
	p := &phase{name: "Phase 2: Permit Identity"}
	seen := make(map[string]int, len(permits))
	for _, permit := range permits {
		seen[permit.ID]++
	}
	ids := make([]string, 0, len(seen))
	for id, n := range seen {
		if n > 1 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		p.errorf("permit %s appears %d times", id, seen[id])
	}
	return p
}

// ── Phase 3: Value Ranges ──

func validateValues(records []domain.RawPermitRecord, permits []domain.Permit) *phase {
	p := &phase{name: "Phase 3: Value Ranges"}

	// Rows are re-parsed so line numbers follow the file.
	for i, rec := range records {
		permit, err := domain.ParseRawRecord(rec)
		if err != nil {
			continue
		}
		checkParsed(p, i, "Fees_Paid", rec.FeesPaid, permit.FeesPaid)
		checkParsed(p, i, "Valuation", rec.Valuation, permit.Valuation)
		checkParsed(p, i, "Square_Feet", rec.SquareFeet, permit.SquareFeet)
		if strings.TrimSpace(rec.IssuedDate) != "" && permit.IssuedDate.IsZero() {
			p.warnf("line %d: Issued_Date %q is not a recognized date", line(i), rec.IssuedDate)
		}
	}

	var missingZip, negative, withFee int
	for _, permit := range permits {
		if permit.ZipCode == "" {
			missingZip++
		}
		if permit.DurationDays != nil && *permit.DurationDays < 0 {
			negative++
		}
		if permit.FeesPaid != nil {
			withFee++
		}
	}
	if missingZip > 0 {
		p.warnf("%d permits have no zip code in their address", missingZip)
	}
	if negative > 0 {
		p.warnf("%d permits were finaled before they were issued", negative)
	}
	if len(permits) > 0 && withFee == 0 {
		p.errorf("no permit has a paid fee; nothing can be estimated")
	}
	return p
}

func checkParsed(p *phase, i int, column, raw string, parsed *float64) {
	if strings.TrimSpace(raw) != "" && parsed == nil {
		p.warnf("line %d: %s %q is not a non-negative amount", line(i), column, raw)
	}
}

// ── Phase 4: Estimator Coverage ──
// Every permit type with a paid fee must produce an estimate, both by sampling
// and by nearest neighbors at the type's median square footage.

func validateEstimatorCoverage(permits []domain.Permit) *phase {
	p := &phase{name: "Phase 4: Estimator Coverage"}
	estimator := domain.NewEstimator(1)
	k := cfg.EstimateDefaultK

	byType := map[string][]float64{}
	for _, permit := range permits {
		if permit.FeesPaid == nil {
			continue
		}
		sqft := byType[permit.PermitType]
		if permit.SquareFeet != nil && permit.Valuation != nil {
			sqft = append(sqft, *permit.SquareFeet)
		}
		byType[permit.PermitType] = sqft
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	slices.Sort(types)

	for _, t := range types {
		est, err := estimator.Estimate(permits, domain.Query{PermitType: t, K: k})
		switch {
		case err != nil:
			p.errorf("%s: sample estimate: %v", t, err)
			continue
		case !est.Found():
			p.errorf("%s: sample estimate found nothing", t)
			continue
		case len(est.Neighbors) > min(k, est.Eligible):
			p.errorf("%s: %d neighbors exceeds min(k=%d, eligible=%d)", t, len(est.Neighbors), k, est.Eligible)
		}

		sqft := byType[t]
		if len(sqft) == 0 {
			continue
		}
		slices.Sort(sqft)
		median := stat.Quantile(0.5, stat.Empirical, sqft, nil)
		est, err = estimator.Estimate(permits, domain.Query{PermitType: t, SquareFeet: &median, K: k})
		if err != nil {
			p.errorf("%s: nearest estimate: %v", t, err)
			continue
		}
		if !est.Found() {
			p.errorf("%s: nearest estimate found nothing with %d complete permits", t, len(sqft))
			continue
		}
		if !slices.IsSortedFunc(est.Neighbors, func(a, b domain.Neighbor) int {
			switch {
			case a.Distance < b.Distance:
				return -1
			case a.Distance > b.Distance:
				return 1
			}
			return 0
		}) {
			p.errorf("%s: neighbors are not ordered by distance", t)
		}
	}
	return p
}

// ── Phase 5: Archive Parity ──

func validateArchiveParity(permits []domain.Permit, archived *domain.Dataset) *phase {
	p := &phase{name: "Phase 5: Archive Parity (SQLite vs CSV)"}
	if archived == nil {
		p.errorf("archive holds no snapshot")
		return p
	}
	if len(archived.Permits) != len(permits) {
		p.errorf("archive has %d permits, CSV has %d", len(archived.Permits), len(permits))
	}

	fresh := make(map[string]domain.Permit, len(permits))
	for _, permit := range permits {
		fresh[permit.ID] = permit
	}
	for _, old := range archived.Permits {
		cur, ok := fresh[old.ID]
		if !ok {
			p.warnf("permit %s is archived but no longer in the CSV", old.ID)
			continue
		}
		if !equalAmount(old.FeesPaid, cur.FeesPaid) {
			p.errorf("permit %s: archived fee %s, CSV fee %s", old.ID, optionalUSD(old.FeesPaid), optionalUSD(cur.FeesPaid))
		}
	}
	return p
}

func equalAmount(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// report prints one status line per phase followed by error and warning
// details, and returns whether every phase passed.
func report(w io.Writer, phases []*phase) bool {
	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		if len(p.warnings) > 0 {
			status += fmt.Sprintf(" (%d warnings)", len(p.warnings))
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.warnings) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
		for _, warning := range p.warnings {
			fmt.Fprintf(w, "  warn: %s\n", warning)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return true
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return false
}

// Command genmock generates a synthetic Irving commercial permits export for
// demos and load tests. Output is deterministic for a given seed, and every
// row is run through the domain cleaning code so the printed stats match what
// the service will see.
//
// Usage:
//
//	go run ./cmd/genmock -rows 5000 -seed 7 -out data/mock/irving_permits_synthetic.csv
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/jszwec/csvutil"
)

var baseDate = time.Date(2022, time.February, 15, 0, 0, 0, 0, time.UTC)

// permitProfile shapes one permit type: how large its projects are and how
// its fee scales with valuation.
type permitProfile struct {
	permitType string
	weight     int     // relative frequency
	sqftMedian float64 // 0 means the type never reports square feet
	valPerSqft float64
	feeBase    float64
	feeRate    float64 // fee per dollar of valuation
}

var profiles = []permitProfile{
	{permitType: "Building", weight: 30, sqftMedian: 6000, valPerSqft: 120, feeBase: 250, feeRate: 0.0065},
	{permitType: "Electrical", weight: 20, feeBase: 90, feeRate: 0.004},
	{permitType: "Mechanical", weight: 15, feeBase: 85, feeRate: 0.0035},
	{permitType: "Plumbing", weight: 15, feeBase: 80, feeRate: 0.0035},
	{permitType: "Fire", weight: 10, sqftMedian: 9000, valPerSqft: 12, feeBase: 150, feeRate: 0.005},
	{permitType: "Sign", weight: 10, feeBase: 75, feeRate: 0.01},
}

var (
	statuses = []string{"Issued", "Finaled", "Finaled", "Finaled", "Expired", "In Review"}
	zips     = []string{"75038", "75039", "75060", "75061", "75062", "75063"}
	streets  = []string{"W IRVING BLVD", "N O'CONNOR BLVD", "N MACARTHUR BLVD", "E JOHN CARPENTER FWY", "DECKER DR", "ESTERS BLVD", "VALLEY VIEW LN", "STORY RD"}
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	rows := flag.Int("rows", 1000, "number of permits to generate")
	seed := flag.Uint64("seed", 1, "random seed")
	out := flag.String("out", "", "output CSV path (default stdout)")
	flag.Parse()

	if *rows <= 0 {
		flag.Usage()
		return fmt.Errorf("-rows must be positive")
	}

	// Set a fixed clock for reproducible ProcessedAt timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.June, 1, 6, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	records := generate(*rows, *seed)

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := write(w, records); err != nil {
		return err
	}
	if *out != "" {
		log.Printf("wrote %d permits to %s", len(records), *out)
	}

	printStats(os.Stderr, records)
	return nil
}

// generate builds n raw permit rows from a PCG source seeded with seed.
func generate(n int, seed uint64) []domain.RawPermitRecord {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	totalWeight := 0
	for _, p := range profiles {
		totalWeight += p.weight
	}

	records := make([]domain.RawPermitRecord, 0, n)
	for i := range n {
		profile := pick(rng, totalWeight)
		issued := baseDate.AddDate(0, 0, rng.IntN(900))

		rec := domain.RawPermitRecord{
			PermitNumber: fmt.Sprintf("COM%02d-%05d", issued.Year()%100, i+1),
			PermitType:   profile.permitType,
			Status:       statuses[rng.IntN(len(statuses))],
			Address:      address(rng),
			IssuedDate:   issued.Format("2006/01/02 15:04:05") + "+00",
		}
		if rec.Status == "Finaled" {
			// Durations are long-tailed; a few outliers exercise the 95th percentile cap.
			days := int(math.Exp(rng.NormFloat64()*0.8 + 4))
			rec.FinaledDate = issued.AddDate(0, 0, days).Format("2006/01/02 15:04:05") + "+00"
		}

		var valuation float64
		if profile.sqftMedian > 0 {
			sqft := math.Round(profile.sqftMedian * math.Exp(rng.NormFloat64()*0.6))
			valuation = sqft * profile.valPerSqft * (0.7 + 0.6*rng.Float64())
			if rng.IntN(20) > 0 {
				rec.SquareFeet = fmt.Sprintf("%.0f", sqft)
			}
		} else {
			valuation = 5000 * math.Exp(rng.NormFloat64()*1.1+1)
		}
		valuation = math.Round(valuation/100) * 100
		if rng.IntN(25) > 0 {
			rec.Valuation = domain.FormatUSD(valuation)
		}
		if rng.IntN(30) > 0 {
			fee := profile.feeBase + valuation*profile.feeRate*(0.9+0.2*rng.Float64())
			rec.FeesPaid = domain.FormatUSD(math.Round(fee*100) / 100)
		}
		records = append(records, rec)
	}
	return records
}

func pick(rng *rand.Rand, totalWeight int) permitProfile {
	r := rng.IntN(totalWeight)
	for _, p := range profiles {
		if r < p.weight {
			return p
		}
		r -= p.weight
	}
	return profiles[len(profiles)-1]
}

// address returns a street address; about one in ten omits the zip so the
// geocoding fallback has work to do.
func address(rng *rand.Rand) string {
	street := fmt.Sprintf("%d %s", 100+rng.IntN(9900), streets[rng.IntN(len(streets))])
	if rng.IntN(10) == 0 {
		return street
	}
	return fmt.Sprintf("%s IRVING TX %s", street, zips[rng.IntN(len(zips))])
}

func write(w io.Writer, records []domain.RawPermitRecord) error {
	data, err := csvutil.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func printStats(w io.Writer, records []domain.RawPermitRecord) {
	typeCounts := map[string]int{}
	var complete, withZip int
	for _, rec := range records {
		p, err := domain.ParseRawRecord(rec)
		if err != nil {
			continue
		}
		p = domain.EnrichPermit(p)
		typeCounts[p.PermitType]++
		if p.ZipCode != "" {
			withZip++
		}
		if p.SquareFeet != nil && p.Valuation != nil && p.FeesPaid != nil {
			complete++
		}
	}

	fmt.Fprintf(w, "total: %d permits, %d with zip, %d complete for nearest-neighbor estimates\n", len(records), withZip, complete)
	for _, p := range profiles {
		fmt.Fprintf(w, "  %-12s %d\n", p.permitType, typeCounts[p.permitType])
	}
}

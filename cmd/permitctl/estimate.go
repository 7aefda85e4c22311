package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/couchcryptid/permit-data-service/internal/adapter/xlsx"
	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/spf13/cobra"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the fee for a prospective permit",
	Example: `  permitctl estimate --type Building --square-feet 12000 --valuation 850000
  permitctl estimate --type Electrical -k 10 --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := queryFromFlags(cmd)
		if err != nil {
			return err
		}

		ds, err := loadDataset(cmd.Context())
		if err != nil {
			return err
		}

		est, err := domain.NewEstimator(cfg.EstimateSampleSeed).Estimate(ds.Permits, q)
		if err != nil {
			return err
		}

		if out, _ := cmd.Flags().GetString("xlsx"); out != "" {
			wb := xlsx.NewWorkbook()
			if err := wb.AddEstimate(q, est); err != nil {
				return err
			}
			if err := wb.Save(out); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "wrote %s\n", out)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(est)
		}
		formatEstimate(os.Stdout, est)
		return nil
	},
}

func init() {
	estimateFlags(estimateCmd)
}

func estimateFlags(c *cobra.Command) {
	f := c.Flags()
	f.String("type", "", "permit type, e.g. Building (required)")
	f.Float64("square-feet", 0, "square footage; omit to ignore")
	f.Float64("valuation", 0, "project valuation in dollars; omit to ignore")
	f.IntP("neighbors", "k", 0, "number of comparable permits (default $ESTIMATE_DEFAULT_K)")
	f.Bool("json", false, "print the estimate as JSON")
	f.String("xlsx", "", "also write the estimate to this workbook")
	_ = c.MarkFlagRequired("type")
}

// queryFromFlags treats a flag as a dimension only when it was passed, so an
// explicit --square-feet 0 still counts.
func queryFromFlags(cmd *cobra.Command) (domain.Query, error) {
	f := cmd.Flags()
	q := domain.Query{K: cfg.EstimateDefaultK}
	q.PermitType, _ = f.GetString("type")

	if f.Changed("square-feet") {
		v, _ := f.GetFloat64("square-feet")
		q.SquareFeet = &v
	}
	if f.Changed("valuation") {
		v, _ := f.GetFloat64("valuation")
		q.Valuation = &v
	}
	if f.Changed("neighbors") {
		q.K, _ = f.GetInt("neighbors")
	}
	if q.K > cfg.EstimateMaxK {
		return q, fmt.Errorf("%w: k must be at most %d, got %d", domain.ErrInvalidQuery, cfg.EstimateMaxK, q.K)
	}
	return q, nil
}

func formatEstimate(w io.Writer, est domain.FeeEstimate) {
	if !est.Found() {
		fmt.Fprintln(w, "No comparable data for this permit type.")
		return
	}
	fmt.Fprintf(w, "Estimated fee: %s (%s, %d eligible permits)\n\n", domain.FormatUSD(*est.EstimatedFee), est.Method, est.Eligible)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ZIP\tTYPE\tSQ FT\tVALUATION\tFEE\tDISTANCE")
	for _, n := range est.Neighbors {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.3f\n",
			n.ZipCode, n.PermitType, optionalNumber(n.SquareFeet), optionalUSD(n.Valuation),
			domain.FormatUSD(n.FeesPaid), n.Distance)
	}
	_ = tw.Flush()
}

func optionalNumber(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *v)
}

func optionalUSD(v *float64) string {
	if v == nil {
		return "-"
	}
	return domain.FormatUSD(*v)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/couchcryptid/permit-data-service/internal/adapter/xlsx"
	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print descriptive statistics for the permit dataset",
	Example: `  permitctl summary
  permitctl summary --zip 75062 --zip 75039 --year 2023 --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := filterFromFlags(cmd)
		ds, err := loadDataset(cmd.Context())
		if err != nil {
			return err
		}
		s := domain.Summarize(domain.ApplyFilter(ds.Permits, f))

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		formatSummary(os.Stdout, ds, s)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the dataset summary to an Excel workbook",
	Example: `  permitctl export --out permit-summary.xlsx --type Building`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("out")
		f := filterFromFlags(cmd)
		ds, err := loadDataset(cmd.Context())
		if err != nil {
			return err
		}

		wb := xlsx.NewWorkbook()
		if err := wb.AddSummary(domain.Summarize(domain.ApplyFilter(ds.Permits, f))); err != nil {
			return err
		}
		if err := wb.Save(out); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", out)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{summaryCmd, exportCmd} {
		f := c.Flags()
		f.StringSlice("zip", nil, "only permits in these zip codes")
		f.IntSlice("year", nil, "only permits issued in these years")
		f.StringSlice("type", nil, "only these permit types")
		f.StringSlice("status", nil, "only these statuses")
	}
	summaryCmd.Flags().Bool("json", false, "print the summary as JSON")
	exportCmd.Flags().String("out", "permit-summary.xlsx", "workbook path")
}

func filterFromFlags(cmd *cobra.Command) domain.Filter {
	f := cmd.Flags()
	var filter domain.Filter
	filter.ZipCodes, _ = f.GetStringSlice("zip")
	filter.Years, _ = f.GetIntSlice("year")
	filter.PermitTypes, _ = f.GetStringSlice("type")
	filter.Statuses, _ = f.GetStringSlice("status")
	return filter
}

func formatSummary(w io.Writer, ds *domain.Dataset, s domain.Summary) {
	fmt.Fprintf(w, "Snapshot %s from %s (loaded %s)\n", ds.ID, ds.Source, ds.LoadedAt.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(w, "%s permits\n", humanize.Comma(int64(s.Total)))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	section := func(title string) {
		fmt.Fprintf(tw, "\n%s\n", title)
	}

	section("PERMIT TYPE\tPERMITS\tAVG FEE\tAVG SQ FT")
	avgFee := averages(s.AverageFeeByType)
	avgSqFt := averages(s.AverageSquareFeetByType)
	for _, c := range s.PermitTypeCounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Label, humanize.Comma(int64(c.Count)),
			orDash(avgFee, c.Label, domain.FormatUSD), orDash(avgSqFt, c.Label, func(v float64) string {
				return humanize.Comma(int64(v + 0.5))
			}))
	}

	section("STATUS\tPERMITS")
	for _, c := range s.StatusCounts {
		fmt.Fprintf(tw, "%s\t%s\n", c.Label, humanize.Comma(int64(c.Count)))
	}

	section("YEAR\tPERMITS")
	for _, y := range s.YearCounts {
		fmt.Fprintf(tw, "%d\t%s\n", y.Year, humanize.Comma(int64(y.Count)))
	}

	section("DURATION (DAYS)\tN\tMIN\tQ1\tMEDIAN\tQ3\tMAX\tMEAN")
	for _, d := range s.DurationByType {
		fmt.Fprintf(tw, "%s\t%d\t%.0f\t%.1f\t%.1f\t%.1f\t%.0f\t%.1f\n",
			d.PermitType, d.Count, d.Min, d.Q1, d.Median, d.Q3, d.Max, d.Mean)
	}
	_ = tw.Flush()

	if s.DurationCap != nil {
		fmt.Fprintf(w, "\nDurations capped at %.1f days (95th percentile).\n", *s.DurationCap)
	}
}

func averages(in []domain.LabelAverage) map[string]float64 {
	out := make(map[string]float64, len(in))
	for _, a := range in {
		out[a.Label] = a.Average
	}
	return out
}

func orDash(m map[string]float64, key string, format func(float64) string) string {
	v, ok := m[key]
	if !ok {
		return "-"
	}
	return format(v)
}

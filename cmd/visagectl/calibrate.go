package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/calibrate"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure false accept and false reject rates over the enrolled gallery",
	Long: `Compare every pair of the user's linked encodings. Pairs of the same person
are genuine, pairs of different people are impostors. For each threshold the
false accept rate (impostors below it) and false reject rate (genuine pairs at
or above it) are printed, together with the threshold where they meet.`,
	Example: `  visagectl calibrate --user u1 --from 0.2 --to 1.2 --step 0.05`,
	Args:    cobra.NoArgs,
	RunE:    runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)

	calibrateCmd.Flags().Float64("from", 0.2, "first threshold")
	calibrateCmd.Flags().Float64("to", 1.2, "last threshold")
	calibrateCmd.Flags().Float64("step", 0.05, "threshold step")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	thresholds := calibrate.Thresholds(
		mustGetFloat64(cmd, "from"), mustGetFloat64(cmd, "to"), mustGetFloat64(cmd, "step"))
	if len(thresholds) == 0 {
		return fmt.Errorf("empty threshold range")
	}

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	encs, err := a.store.ListLinkedEncodings(cmd.Context(), userID, a.cfg.Recognition.Model)
	if err != nil {
		return err
	}
	report, err := calibrate.Run(calibrate.SamplesFrom(encs), thresholds)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Printf("%d encodings of %d people, model %s\n", report.Samples, report.Persons, a.cfg.Recognition.Model)
	fmt.Printf("genuine:  %d pairs, mean %.3f ± %.3f, p95 %.3f, max %.3f\n",
		report.Genuine.Pairs, report.Genuine.Mean, report.Genuine.StdDev, report.Genuine.P95, report.Genuine.Max)
	fmt.Printf("impostor: %d pairs, mean %.3f ± %.3f, min %.3f\n\n",
		report.Impostor.Pairs, report.Impostor.Mean, report.Impostor.StdDev, report.Impostor.Min)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "THRESHOLD\tFAR\tFRR\t")
	for _, p := range report.Points {
		marker := ""
		if p.Threshold == report.EERThreshold {
			marker = " <- EER"
		}
		fmt.Fprintf(w, "%.3f\t%.4f\t%.4f\t%s\n", p.Threshold, p.FAR, p.FRR, marker)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nequal error rate %.4f at threshold %.3f (configured %.2f)\n",
		report.EER, report.EERThreshold, a.cfg.Recognition.MatchThreshold)
	return nil
}

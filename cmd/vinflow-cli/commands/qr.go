package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var forceVerify bool

func init() {
	qrVerifyCmd.Flags().BoolVar(&forceVerify, "force", false, "verify every record, not just today's unverified ones")
	qrCmd.AddCommand(qrVerifyCmd)
	qrCmd.AddCommand(qrReportCmd)
	rootCmd.AddCommand(qrCmd)
}

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "QR artifact verification and reporting.",
}

var qrVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Batch-verifies QR target URLs.",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal(err)
		}
		summary, err := e.qr.VerifyAll(cmd.Context(), forceVerify)
		if err != nil {
			fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Attempted", "Valid", "Invalid", "Errors", "Skipped"})
		t.AppendRow(table.Row{summary.Attempted, summary.Valid, summary.Invalid, summary.Errors, summary.Skipped})
		t.Render()
	},
}

var qrReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Prints the pre-print validation gate.",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal(err)
		}
		report, err := e.qr.PrePrintValidationReport(cmd.Context())
		if err != nil {
			fatal(err)
		}

		if report.PrintSafe {
			fmt.Printf("print safe: %d records, all verified\n", report.Total)
			return
		}
		fmt.Printf("NOT print safe: %d of %d records are problematic\n",
			report.ProblematicCount, report.Total)

		t := newTable()
		t.AppendHeader(table.Row{"VIN", "Status", "Reason", "Last verified"})
		for _, problem := range report.Problems {
			t.AppendRow(table.Row{problem.Vin, problem.Status, problem.Reason, problem.LastSeen})
		}
		t.Render()
	},
}

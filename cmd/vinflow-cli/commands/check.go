package commands

import (
	"fmt"
	"strings"

	"vinflow-backend/services/consistency"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Runs the consistency check battery against the stores.",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal(err)
		}
		checker := consistency.NewService(e.inventoryDB, e.historyDB, e.registry, nil, consistency.Options{})
		report, err := checker.RunFullCheck(cmd.Context())
		if err != nil {
			fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Check", "Issue", "Severity", "Count", "Sample"})
		for _, check := range report.Checks {
			if check.IssuesFound == 0 {
				t.AppendRow(table.Row{check.Name, "ok", "", "", ""})
				continue
			}
			for _, issue := range check.Issues {
				t.AppendRow(table.Row{
					check.Name, issue.Type, issue.Severity, issue.Count,
					strings.Join(issue.Sample, ", "),
				})
			}
		}
		t.Render()

		if report.Healthy {
			fmt.Println("stores are consistent")
		} else {
			fmt.Printf("%d critical, %d warning findings\n",
				report.CriticalCount, report.WarningCount)
		}
	},
}

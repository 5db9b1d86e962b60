package commands

import (
	"fmt"
	"os"

	"vinflow-backend/services/orders"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var templateType string

func init() {
	orderCmd.PersistentFlags().StringVar(&templateType, "template", "shortcut", "marketing template type")
	orderCmd.AddCommand(orderCaoCmd)
	orderCmd.AddCommand(orderListCmd)
	rootCmd.AddCommand(orderCmd)
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Runs fulfillment jobs.",
}

var orderCaoCmd = &cobra.Command{
	Use:   "cao <dealership>",
	Short: "Fulfills only the newly-arrived vehicles for a dealership.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal(err)
		}
		result, err := e.orders.ProcessCAO(cmd.Context(), orders.CAORequest{
			Dealership:   args[0],
			TemplateType: templateType,
		})
		renderResult(result, err)
	},
}

var orderListCmd = &cobra.Command{
	Use:   "list <dealership> <vin...>",
	Short: "Fulfills an explicit VIN list for a dealership.",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fatal(err)
		}
		result, err := e.orders.ProcessList(cmd.Context(), orders.ListRequest{
			Dealership:   args[0],
			VINs:         args[1:],
			TemplateType: templateType,
		})
		renderResult(result, err)
	},
}

func renderResult(result orders.Result, err error) {
	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"Job", result.JobID})
	t.AppendRow(table.Row{"Success", result.Success})
	t.AppendRow(table.Row{"Total vehicles", result.TotalVehicles})
	t.AppendRow(table.Row{"New vehicles", result.NewVehicles})
	t.AppendRow(table.Row{"QR codes", result.QRCodesGenerated})
	if result.DownloadArtifact != "" {
		t.AppendRow(table.Row{"Artifact", result.DownloadArtifact})
	}
	t.Render()

	for _, warning := range result.Warnings {
		fmt.Println("warning:", warning)
	}
	for _, vin := range result.MissingVINs {
		fmt.Println("missing:", vin)
	}
	for _, message := range result.Errors {
		fmt.Fprintln(os.Stderr, "error:", message)
	}
	if err != nil {
		fatal(err)
	}
}

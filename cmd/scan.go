package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/solarb/config"
	"github.com/michaelpento.lv/solarb/types"
	"github.com/michaelpento.lv/solarb/utils"
)

var scanLimit int

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one detection pass and print the opportunities found",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		eng, deps, err := newDetection(cfg, log)
		if err != nil {
			return err
		}
		// nothing is registered, so no collectors are exported
		if err := eng.newBot(deps, nil); err != nil {
			return err
		}

		agent, _ := eng.bot.Agents().Get("main")
		_, opps, err := eng.bot.Detect(cmd.Context(), agent)
		if err != nil {
			return err
		}
		if scanLimit > 0 && len(opps) > scanLimit {
			opps = opps[:scanLimit]
		}
		return printOpportunities(cmd.OutOrStdout(), opps)
	},
}

func printOpportunities(w io.Writer, opps []*types.ArbitrageOpportunity) error {
	if len(opps) == 0 {
		_, err := fmt.Fprintln(w, "no opportunities")
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Path", "Dexes", "Input", "Profit %", "Net profit", "Confidence"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	for _, o := range opps {
		dexes := make([]string, 0, o.Path.Hops())
		for _, d := range o.Path.Dexes() {
			dexes = append(dexes, string(d))
		}
		table.Append([]string{
			pathSymbols(o.Path),
			strings.Join(dexes, ">"),
			o.InputAmount.String(),
			o.ProfitPercent.StringFixed(3),
			o.NetProfit.StringFixed(6),
			fmt.Sprintf("%.2f", o.Confidence),
		})
	}
	table.Render()
	return nil
}

func pathSymbols(p types.ArbitragePath) string {
	if len(p.Steps) == 0 {
		return ""
	}
	parts := []string{p.Steps[0].TokenIn.String()}
	for _, s := range p.Steps {
		parts = append(parts, s.TokenOut.String())
	}
	return strings.Join(parts, ">")
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanLimit, "limit", 20, "maximum opportunities to print; 0 prints all")
}

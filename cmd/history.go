package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/tasmota-bridge/config"
	"github.com/kilianp07/tasmota-bridge/infra/history"
)

var historyOpts struct {
	entityID string
	start    string
	end      string
	format   string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "State history commands",
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded states as CSV or JSON",
	RunE:  runHistoryExport,
}

func init() {
	f := historyExportCmd.Flags()
	f.StringVarP(&historyOpts.entityID, "entity", "e", "", "entity id, empty for all entities")
	f.StringVar(&historyOpts.start, "start", "", "RFC 3339 start time")
	f.StringVar(&historyOpts.end, "end", "", "RFC 3339 end time")
	f.StringVarP(&historyOpts.format, "format", "f", "csv", "csv or json")
	historyCmd.AddCommand(historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}

func parseTimeFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	start, err := parseTimeFlag("start", historyOpts.start)
	if err != nil {
		return err
	}
	end, err := parseTimeFlag("end", historyOpts.end)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := history.NewStore(cfg.History.Module())
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer func() { _ = store.Close() }()
	recs, err := store.Query(cmd.Context(), history.Query{EntityID: historyOpts.entityID, Start: start, End: end})
	if err != nil {
		return err
	}
	return history.Write(cmd.OutOrStdout(), recs, historyOpts.format)
}

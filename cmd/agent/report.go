package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bookingagent/internal/database"
	"bookingagent/internal/report"
)

var reportFlags struct {
	month string
	dir   string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a month of confirmed bookings to Excel",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportFlags.month, "month", "", "month to export as YYYY-MM (default: previous month)")
	f.StringVar(&reportFlags.dir, "out", "", "output directory (default: report.dir from config)")
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	month := time.Now().UTC().AddDate(0, -1, 0)
	if reportFlags.month != "" {
		if month, err = report.ParseMonth(reportFlags.month); err != nil {
			return err
		}
	}
	dir := reportFlags.dir
	if dir == "" {
		dir = cfg.ReportDir()
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	path, err := report.NewService(db, nil, &logger).ExportToDir(cmd.Context(), month, dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"sfm/internal/config"
	"sfm/internal/records"
)

type harvestView struct {
	HarvestID     string                      `json:"harvest_id"`
	CollectionID  string                      `json:"collection_id"`
	HarvestType   string                      `json:"harvest_type"`
	Status        string                      `json:"status"`
	DateRequested time.Time                   `json:"date_requested"`
	DateStarted   *time.Time                  `json:"date_started,omitempty"`
	DateEnded     *time.Time                  `json:"date_ended,omitempty"`
	Stats         map[string]int64            `json:"stats"`
	Infos         []string                    `json:"infos"`
	Warnings      []string                    `json:"warnings"`
	Errors        []string                    `json:"errors"`
	TokenUpdates  map[string]string           `json:"token_updates"`
	UIDs          map[string]string           `json:"uids"`
	WarcsCount    int64                       `json:"warcs_count"`
	WarcsBytes    int64                       `json:"warcs_bytes"`
	DailyStats    map[string]map[string]int64 `json:"daily_stats"`
	Warcs         []warcView                  `json:"warcs"`
}

type warcView struct {
	WarcID string `json:"warc_id"`
	Path   string `json:"path"`
	SHA1   string `json:"sha1"`
	Bytes  int64  `json:"bytes"`
}

func newHarvestCommand(ctx *commandContext) *cobra.Command {
	harvestCmd := &cobra.Command{
		Use:   "harvest",
		Short: "Inspect harvests",
	}
	harvestCmd.AddCommand(newHarvestShowCommand(ctx))
	return harvestCmd
}

func newHarvestShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <harvest_id>",
		Short: "Show a harvest with its daily stats and warcs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *records.Store) error {
				harvest, err := store.GetHarvest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if harvest == nil {
					return fmt.Errorf("harvest %s: %w", args[0], records.ErrNotFound)
				}
				stats, err := store.HarvestStatsForHarvest(cmd.Context(), harvest.HarvestID)
				if err != nil {
					return err
				}
				warcs, err := store.WarcsForHarvest(cmd.Context(), harvest.HarvestID)
				if err != nil {
					return err
				}
				view := buildHarvestView(harvest, stats, warcs)
				if jsonOut {
					return writeJSON(cmd, view)
				}
				printHarvest(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func buildHarvestView(h *records.Harvest, stats []*records.HarvestStat, warcs []*records.Warc) harvestView {
	view := harvestView{
		HarvestID:     h.HarvestID,
		CollectionID:  h.CollectionID,
		HarvestType:   h.HarvestType,
		Status:        h.Status,
		DateRequested: h.DateRequested,
		DateStarted:   h.DateStarted,
		DateEnded:     h.DateEnded,
		Stats:         h.Stats,
		Infos:         h.Infos,
		Warnings:      h.Warnings,
		Errors:        h.Errors,
		TokenUpdates:  h.TokenUpdates,
		UIDs:          h.UIDs,
		WarcsCount:    h.WarcsCount,
		WarcsBytes:    h.WarcsBytes,
		DailyStats:    map[string]map[string]int64{},
		Warcs:         make([]warcView, 0, len(warcs)),
	}
	for _, s := range stats {
		day := view.DailyStats[s.HarvestDate]
		if day == nil {
			day = map[string]int64{}
			view.DailyStats[s.HarvestDate] = day
		}
		day[s.Item] += s.Count
	}
	for _, w := range warcs {
		view.Warcs = append(view.Warcs, warcView{WarcID: w.WarcID, Path: w.Path, SHA1: w.SHA1, Bytes: w.Bytes})
	}
	return view
}

func printHarvest(out io.Writer, v harvestView) {
	fmt.Fprintf(out, "Harvest:    %s\n", v.HarvestID)
	fmt.Fprintf(out, "Collection: %s\n", v.CollectionID)
	fmt.Fprintf(out, "Type:       %s\n", v.HarvestType)
	fmt.Fprintf(out, "Status:     %s\n", statusLabel(v.Status))
	fmt.Fprintf(out, "Requested:  %s\n", formatTime(&v.DateRequested))
	fmt.Fprintf(out, "Started:    %s\n", formatTime(v.DateStarted))
	fmt.Fprintf(out, "Ended:      %s\n", formatTime(v.DateEnded))
	fmt.Fprintf(out, "Warcs:      %d (%d bytes)\n", v.WarcsCount, v.WarcsBytes)
	if len(v.Stats) > 0 {
		fmt.Fprintf(out, "Stats:      %s\n", formatCounts(v.Stats))
	}
	printMessages(out, "Infos", v.Infos)
	printMessages(out, "Warnings", v.Warnings)
	printMessages(out, "Errors", v.Errors)

	if len(v.DailyStats) > 0 {
		days := make([]string, 0, len(v.DailyStats))
		for day := range v.DailyStats {
			days = append(days, day)
		}
		sort.Strings(days)
		var rows [][]string
		for _, day := range days {
			rows = append(rows, []string{day, formatCounts(v.DailyStats[day])})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTableFor(out, []string{"Day", "Items"}, rows, nil))
	}
	if len(v.Warcs) > 0 {
		rows := make([][]string, 0, len(v.Warcs))
		for _, w := range v.Warcs {
			rows = append(rows, []string{w.WarcID, w.Path, fmt.Sprint(w.Bytes)})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTableFor(out, []string{"Warc", "Path", "Bytes"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	}
}

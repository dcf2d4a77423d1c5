package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sfm/internal/config"
	"sfm/internal/records"
)

type collectionView struct {
	CollectionID    string `json:"collection_id"`
	CollectionSetID string `json:"collection_set_id"`
	Name            string `json:"name"`
	HarvestType     string `json:"harvest_type"`
	Active          bool   `json:"is_active"`
	Seeds           int    `json:"seeds"`
	Harvests        int    `json:"harvests"`
	LatestHarvest   string `json:"latest_harvest_id,omitempty"`
	LatestStatus    string `json:"latest_harvest_status,omitempty"`
}

func newCollectionsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List collections with their latest harvest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *records.Store) error {
				collections, err := store.ListCollections(cmd.Context())
				if err != nil {
					return err
				}
				views := make([]collectionView, 0, len(collections))
				for _, c := range collections {
					view, err := buildCollectionView(cmd, store, c)
					if err != nil {
						return err
					}
					views = append(views, view)
				}

				if jsonOut {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "No collections")
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{
						v.CollectionID,
						v.Name,
						v.HarvestType,
						yesNo(v.Active),
						fmt.Sprint(v.Seeds),
						fmt.Sprint(v.Harvests),
						statusLabel(v.LatestStatus),
					})
				}
				fmt.Fprintln(out, renderTableFor(out,
					[]string{"Collection", "Name", "Type", "Active", "Seeds", "Harvests", "Latest"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func buildCollectionView(cmd *cobra.Command, store *records.Store, c *records.Collection) (collectionView, error) {
	view := collectionView{
		CollectionID:    c.CollectionID,
		CollectionSetID: c.CollectionSetID,
		Name:            c.Name,
		HarvestType:     c.HarvestType,
		Active:          c.IsActive,
	}
	seeds, err := store.SeedsForCollection(cmd.Context(), c.CollectionID)
	if err != nil {
		return view, err
	}
	harvests, err := store.HarvestsForCollection(cmd.Context(), c.CollectionID)
	if err != nil {
		return view, err
	}
	view.Seeds = len(seeds)
	view.Harvests = len(harvests)
	if n := len(harvests); n > 0 {
		view.LatestHarvest = harvests[n-1].HarvestID
		view.LatestStatus = harvests[n-1].Status
	}
	return view, nil
}

// statusLabel renders a harvest status such as "completed success" as
// "Completed Success".
func statusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return "-"
	}
	return cases.Title(language.English).String(status)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iotgrid/hub/internal/config"
	"github.com/iotgrid/hub/internal/store"
)

var nodeJSONOutput bool

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect nodes managed by this hub",
	Long:  "List nodes and their sync backlog without running the server.",
}

func init() {
	nodeCmd.PersistentFlags().BoolVar(&nodeJSONOutput, "json", false,
		"Output in JSON format")

	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeImportCmd)
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		return listNodes(cmd.Context(), cmd.OutOrStdout(), db)
	},
}

type nodeListing struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	HardwareID string `json:"hardwareId"`
	Protocol   string `json:"protocol"`
	Unsynced   int    `json:"unsyncedReadings"`
}

func listNodes(ctx context.Context, w io.Writer, db *store.SQLiteStore) error {
	nodes, err := db.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}

	listings := make([]nodeListing, 0, len(nodes))
	for _, n := range nodes {
		unsynced, err := db.CountUnsyncedReadings(ctx, n.ID)
		if err != nil {
			return fmt.Errorf("count unsynced for %s: %w", n.ID, err)
		}
		listings = append(listings, nodeListing{
			ID:         n.ID,
			Name:       n.Name,
			HardwareID: n.HardwareID,
			Protocol:   string(n.Protocol),
			Unsynced:   unsynced,
		})
	}

	if nodeJSONOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tHARDWARE\tPROTOCOL\tUNSYNCED")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			l.ID, l.Name, l.HardwareID, l.Protocol, l.Unsynced)
	}
	return tw.Flush()
}

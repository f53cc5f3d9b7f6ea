package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbitmesh/swim/internal/config"
)

func init() {
	membersCmd.Flags().StringVar(&membersAPIAddr, "api", "", "swimd debug API address (overrides the config file's [api])")
}

var membersAPIAddr string

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "List the membership view of a running swimd node",
	Long:  `Members queries a running swimd node's debug API and prints its membership table.`,
	RunE:  runMembers,
}

type memberRow struct {
	ID          uint64 `json:"id"`
	Status      string `json:"status"`
	Incarnation uint64 `json:"incarnation"`
	DelayMS     int64  `json:"delay_ms"`
}

func runMembers(cmd *cobra.Command, args []string) error {
	addr := membersAPIAddr
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		addr = fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/v1/members/", addr))
	if err != nil {
		return fmt.Errorf("query %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: unexpected status %s", addr, resp.Status)
	}

	var rows []memberRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "No members known.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "Members (%d):\n", len(rows))
	for _, m := range rows {
		fmt.Fprintf(os.Stdout, "  %d  %-8s incarnation=%d delay=%dms\n", m.ID, m.Status, m.Incarnation, m.DelayMS)
	}
	return nil
}

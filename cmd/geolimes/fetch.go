package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dservsys/geolimes/internal/retrieval"
	"github.com/dservsys/geolimes/pkg/types"
)

var (
	fetchRole   string
	fetchOutDir string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Retrieve the configured datasets, from the cache when possible",
	Example: `  geolimes fetch --config run.yaml
  geolimes fetch --role target --out-dir ./geojson`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchRole, "role", "r", "both", "Dataset to retrieve: source, target or both")
	fetchCmd.Flags().StringVarP(&fetchOutDir, "out-dir", "o", "", "Write each result as <role>.geojson into this directory")
}

func parseRoles(s string) ([]types.Role, error) {
	if strings.EqualFold(strings.TrimSpace(s), "both") {
		return types.Roles, nil
	}
	role, err := types.ParseRole(s)
	if err != nil {
		return nil, err
	}
	return []types.Role{role}, nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	roles, err := parseRoles(fetchRole)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, _, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	outcomes, err := a.RetrieveAll(ctx, roles)
	printOutcomes(outcomes)
	if err != nil {
		return err
	}

	if fetchOutDir != "" {
		return writeGeoJSON(fetchOutDir, outcomes)
	}
	return nil
}

func printOutcomes(outcomes []*retrieval.Outcome) {
	if len(outcomes) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tFINGERPRINT\tFROM\tROWS\tELAPSED")
	for _, o := range outcomes {
		from := "endpoint"
		switch {
		case o.NoData:
			from = "no data"
		case o.CacheHit:
			from = "cache"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			o.Role, o.Fingerprint, from, humanize.Comma(int64(o.Rows())), o.Elapsed.Round(time.Millisecond))
	}
	_ = w.Flush()
}

func writeGeoJSON(dir string, outcomes []*retrieval.Outcome) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		data, err := json.Marshal(o.Result.FeatureCollection())
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", o.Role, err)
		}
		path := filepath.Join(dir, o.Role.String()+".geojson")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%s)\n", path, humanize.Bytes(uint64(len(data))))
	}
	return nil
}

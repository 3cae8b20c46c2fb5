package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/windlass-cd/windlass/common"
	"github.com/windlass-cd/windlass/pkg/deploy"
	"github.com/windlass-cd/windlass/server"
	"github.com/windlass-cd/windlass/util/env"
	"github.com/windlass-cd/windlass/util/errors"
	"github.com/windlass-cd/windlass/util/glob"
)

// NewStatusCommand returns the command printing unit reconciliation records
// fetched from a running controller.
func NewStatusCommand() *cobra.Command {
	var (
		serverAddr string
		selector   string
		output     string
	)
	command := &cobra.Command{
		Use:   "status [flags]",
		Short: "Show the reconciliation status of deployable units",
		Run: func(c *cobra.Command, args []string) {
			client := retryablehttp.NewClient()
			client.RetryMax = 3
			client.Logger = nil

			req, err := retryablehttp.NewRequestWithContext(c.Context(), "GET", fmt.Sprintf("http://%s/api/v1/units", serverAddr), nil)
			errors.CheckError(err)
			resp, err := client.Do(req)
			errors.CheckError(err)
			defer func() {
				if err := resp.Body.Close(); err != nil {
					log.Warnf("Failed to close response body: %v", err)
				}
			}()
			if resp.StatusCode != 200 {
				errors.Fatalf(errors.ErrorGeneric, "status server returned %s", resp.Status)
			}

			var units []server.UnitResponse
			errors.CheckError(json.NewDecoder(resp.Body).Decode(&units))

			filtered := units[:0]
			for _, unit := range units {
				if selector == "" || glob.Match(selector, unit.Unit) {
					filtered = append(filtered, unit)
				}
			}

			switch output {
			case "json":
				data, err := json.MarshalIndent(filtered, "", "  ")
				errors.CheckError(err)
				fmt.Println(string(data))
			case "wide", "":
				printUnitTable(filtered)
			default:
				errors.Fatalf(errors.ErrorGeneric, "unknown output format: %s", output)
			}
		},
	}
	addr := env.StringFromEnv(common.EnvStatusListenAddr, common.DefaultStatusListenAddr)
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	command.Flags().StringVar(&serverAddr, "server", addr, "address of the controller status server")
	command.Flags().StringVar(&selector, "selector", "", "glob pattern selecting units to show")
	command.Flags().StringVarP(&output, "output", "o", "", "output format. One of: wide|json")
	return command
}

func printUnitTable(units []server.UnitResponse) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "UNIT\tSTATUS\tDESIRED\tOBSERVED\tAGE\tMESSAGE\n")
	for _, unit := range units {
		age := ""
		if !unit.ComparedAt.IsZero() {
			age = humanize.Time(unit.ComparedAt.Truncate(time.Second))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", unit.Unit, unit.Status, unit.DesiredTag, unit.ObservedTag, age, unit.Message)
	}
	_ = w.Flush()
	if len(units) > 0 {
		fmt.Printf("Overall: %s\n", overallStatus(units))
	}
}

// overallStatus reduces the unit statuses to the worst one seen.
func overallStatus(units []server.UnitResponse) deploy.SyncStatusCode {
	overall := units[0].Status
	for _, unit := range units[1:] {
		if deploy.IsWorse(overall, unit.Status) {
			overall = unit.Status
		}
	}
	return overall
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tambayan/internal/episode"
	"github.com/jmylchreest/tambayan/internal/observability"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe the upstream API once and print the sources",
	Long: `Run the page-load probe without starting the server.

Each candidate endpoint shape is tried in order until one returns a
usable body. The attempts and the discovered sources are printed; the
command exits non-zero when every shape fails.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	addUpstreamFlags(probeCmd)
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "print the result as JSON")
}

type probeOutput struct {
	Endpoint string            `json:"endpoint,omitempty"`
	Attempts []episode.Attempt `json:"attempts"`
	Sources  []episode.Source  `json:"sources,omitempty"`
	Headers  *episode.Headers  `json:"headers,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg.Logging)

	logger := observability.WithComponent(slog.Default(), "prober")
	prober := episode.NewProber(cfg.Upstream, newUpstreamClient(cfg, logger), logger)

	var out probeOutput
	result, probeErr := prober.Probe(cmd.Context())
	if probeErr != nil {
		out.Error = probeErr.Error()
		var perr *episode.ProbeError
		if errors.As(probeErr, &perr) {
			out.Attempts = perr.Log
		}
	} else {
		out.Endpoint = result.Endpoint
		out.Attempts = result.Attempts
		out.Sources = result.Response.Sources
		if !result.Response.Headers.IsEmpty() {
			out.Headers = &result.Response.Headers
		}
	}

	if probeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	} else {
		printProbe(out)
	}

	return probeErr
}

func printProbe(out probeOutput) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPT\tSTATUS\tTIME\tURL")
	for i, a := range out.Attempts {
		status := a.Message
		if a.Status != 0 {
			status = fmt.Sprintf("%d %s", a.Status, a.StatusText)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, status, a.Duration.Round(time.Millisecond), a.URL)
	}
	_ = tw.Flush()
	fmt.Println()

	if out.Error != "" {
		fmt.Println(out.Error)
		return
	}

	fmt.Printf("Endpoint: %s\n", out.Endpoint)
	if len(out.Sources) == 0 {
		fmt.Println("No video sources found")
		return
	}
	tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tQUALITY\tFORMAT\tURL")
	for i, src := range out.Sources {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, src.Label(), src.Format, src.URL)
	}
	_ = tw.Flush()
	if out.Headers != nil {
		fmt.Printf("\nReferer: %s\nUser-Agent: %s\nwatchsb: %s\n", out.Headers.Referer, out.Headers.UserAgent, out.Headers.WatchSB)
	}
}

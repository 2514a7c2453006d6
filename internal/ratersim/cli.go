package ratersim

import "os"

// ShowHelp prints usage information for the rater simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Kickrate Rater Simulator
========================

Drives a running kickrate service with concurrent simulated participants and
reports how often each item was rated compared to the configured quota.

Usage:
  go run ./cmd/rater-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -raters int
        Number of simulated participants (default 20)
  -concurrency int
        Participants rating at the same time (default CPU cores)
  -max-items int
        Items each participant rates, 0 for the whole queue (default 0)
  -prefix string
        Prefix of generated participant ids (default "sim")
  -seed uint
        Seed for generated responses (default 1)
  -timeout duration
        HTTP request timeout (default 30s)
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  # Ten participants rating everything one at a time
  go run ./cmd/rater-sim -raters 10 -concurrency 1

  # Stress the quota with many concurrent participants
  go run ./cmd/rater-sim -raters 200 -concurrency 32 -url http://localhost:8080
`)
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/kickrate/internal/ratersim"
	"github.com/okian/kickrate/pkg/logger"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		raters      = flag.Int("raters", ratersim.DefaultRaters, "Number of simulated participants")
		concurrency = flag.Int("concurrency", runtime.NumCPU(), "Participants rating at the same time")
		maxItems    = flag.Int("max-items", 0, "Items each participant rates, 0 for the whole queue")
		prefix      = flag.String("prefix", ratersim.DefaultPrefix, "Prefix of generated participant ids")
		seed        = flag.Uint64("seed", 1, "Seed for generated responses")
		timeout     = flag.Duration("timeout", ratersim.DefaultTimeout, "HTTP request timeout")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		ratersim.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	report, err := ratersim.Run(ctx, &ratersim.Config{
		BaseURL:     *baseURL,
		Raters:      *raters,
		Concurrency: *concurrency,
		MaxItems:    *maxItems,
		Timeout:     *timeout,
		Prefix:      *prefix,
		Seed:        *seed,
	})
	if err != nil {
		os.Stderr.WriteString("simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
	if report.Failed > 0 {
		cancel()
		os.Exit(2)
	}
}

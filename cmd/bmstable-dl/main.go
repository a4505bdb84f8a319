package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nekoshiro/bmstable-downloader/internal/browser"
	"github.com/nekoshiro/bmstable-downloader/internal/config"
	"github.com/nekoshiro/bmstable-downloader/internal/download"
	"github.com/nekoshiro/bmstable-downloader/internal/resolve"
)

func main() {
	// Command line flags
	var (
		outputFlag       = flag.String("output", "", "Output directory (overrides config)")
		jobsFlag         = flag.Int("jobs", 0, "Number of songs to download in parallel (overrides config)")
		levelFlag        = flag.String("level", "", "Only download entries with this exact level")
		noDiffFlag       = flag.Bool("no-diff", false, "Skip separately-distributed difficulty charts")
		skipExistingFlag = flag.Bool("skip-existing", false, "Skip songs whose folders already contain charts")
		noBrowserFlag    = flag.Bool("no-browser", false, "Disable the headless-browser fallback for script-only pages")
		configFlag       = flag.String("config", "", "Path to config file")
		verboseFlag      = flag.Bool("verbose", false, "Show verbose output")
	)

	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println("bmstable-dl - Download every song of a BMS difficulty table")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  bmstable-dl [options] <table URL>")
		fmt.Println()
		fmt.Println("For interactive mode, use: bmstable-tui")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(1)
	}
	tableURL := flag.Arg(0)

	// Load config
	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// Apply flags
	if *outputFlag != "" {
		settings.OutputDir = *outputFlag
	}
	if *jobsFlag > 0 {
		settings.MaxConcurrentEntries = *jobsFlag
	}
	if *levelFlag != "" {
		settings.LevelFilter = *levelFlag
	}
	if *noDiffFlag {
		settings.IncludeDiffs = false
	}
	if *skipExistingFlag {
		settings.SkipExisting = true
	}

	// Handle interrupts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, cancelling...")
		cancel()
	}()

	var renderer resolve.Renderer
	if !*noBrowserFlag {
		renderer = browser.NewRenderer()
	}

	manager := download.NewManager(settings, renderer, func(event download.ProgressEvent) {
		if event.Level == download.LevelVerbose && !*verboseFlag {
			return
		}

		prefix := ""
		switch event.Level {
		case download.LevelError:
			prefix = "✗ "
		case download.LevelWarning:
			prefix = "! "
		case download.LevelSuccess:
			prefix = "✓ "
		case download.LevelInfo:
			prefix = "› "
		default:
			prefix = "  "
		}

		fmt.Println(prefix + event.Message)
	})

	summary, err := manager.Run(ctx, tableURL)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nDownload cancelled.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		fmt.Println("\nDownload cancelled.")
		os.Exit(130)
	}

	fmt.Println()
	fmt.Println(summary)

	_, _, failed := summary.Counts()
	if failed > 0 {
		fmt.Printf("See %s in the output directory for details.\n", download.FailedLogName)
		os.Exit(1)
	}
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/inkdrop/internal/app"
	cfgPkg "github.com/xhad/inkdrop/pkg/config"
	"github.com/xhad/inkdrop/pkg/pipeline"
	"golang.org/x/sync/errgroup"
)

type Flags struct {
	ConfigPath  string
	Text        string
	Enrich      bool
	Target      string
	Device      string
	Search      string
	Limit       int
	Concurrency int
	Verbose     bool
}

func main() {
	flags := parseFlags()

	if err := run(flags, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Flags {
	var flags Flags

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&flags.Text, "text", "", "Send this text as a document")
	flag.BoolVar(&flags.Enrich, "enrich", false, "Add an AI summary and entities")
	flag.StringVar(&flags.Target, "target", "", "Destination folder or mailbox")
	flag.StringVar(&flags.Device, "device", "", "Deliverer: web, s3, outbox or library")
	flag.StringVar(&flags.Search, "search", "", "Search the document library instead of ingesting")
	flag.IntVar(&flags.Limit, "limit", 5, "Maximum search results")
	flag.IntVar(&flags.Concurrency, "concurrency", 0, "Parallel runs in batch mode")
	flag.BoolVar(&flags.Verbose, "v", false, "Log every stage")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: inkdrop [flags] [url|file ...]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "With no arguments, reads one URL or file path per line from stdin.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	return flags
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func run(flags Flags, args []string) error {
	cfg, err := cfgPkg.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.Device != "" {
		cfg.Device.Kind = flags.Device
	}
	if flags.Concurrency > 0 {
		cfg.Pipeline.Concurrency = flags.Concurrency
	}
	if flags.Verbose {
		cfg.Log.Level = "debug"
	} else if cfg.Log.Level == "info" {
		// Progress output covers what info logs would say.
		cfg.Log.Level = "warn"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg, app.NewLogger(cfg, os.Stderr))
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	if flags.Search != "" {
		return search(ctx, a, flags.Search, flags.Limit)
	}

	opts := a.Options(flags.Enrich, flags.Target)
	switch {
	case flags.Text != "":
		ok := ingestOne(ctx, a, pipeline.NewTextContext(flags.Text, opts))
		return exitErr(ok)
	case len(args) == 1:
		rc, err := newContext(args[0], opts)
		if err != nil {
			return err
		}
		return exitErr(ingestOne(ctx, a, rc))
	case len(args) > 1:
		return batch(ctx, a, a.Config.Pipeline.Concurrency, args, func(arg string) (*pipeline.RunContext, error) {
			return newContext(arg, opts)
		})
	}
	return interactive(ctx, a, opts)
}

// newContext treats arg as a file when it names one, otherwise as a URL or text.
func newContext(arg string, opts pipeline.RunOptions) (*pipeline.RunContext, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}
		return pipeline.NewFileContext(arg, data, opts), nil
	}
	if strings.Contains(arg, "://") {
		return pipeline.NewURLContext(arg, opts), nil
	}
	return pipeline.NewTextContext(arg, opts), nil
}

func ingestOne(ctx context.Context, a *app.App, rc *pipeline.RunContext) bool {
	spinner := getSpinner(" Sending " + describe(rc) + "...")
	rc, final := a.Ingest(ctx, rc)
	spinner.Finish()
	report(rc, final)
	return final.OK()
}

type ingester interface {
	Ingest(ctx context.Context, rc *pipeline.RunContext) (*pipeline.RunContext, pipeline.FinalStatus)
}

// batch sends every argument as its own run. Runs are independent: a bad
// argument or a failed run never cancels the others.
func batch(ctx context.Context, ing ingester, limit int, args []string, build func(string) (*pipeline.RunContext, error)) error {
	bar := getProgressBar(len(args), " Sending documents")

	var (
		mu     sync.Mutex
		failed int
		g      errgroup.Group
	)
	g.SetLimit(max(limit, 1))

	for _, arg := range args {
		g.Go(func() error {
			rc, err := build(arg)
			if err == nil {
				var final pipeline.FinalStatus
				rc, final = ing.Ingest(ctx, rc)
				mu.Lock()
				defer mu.Unlock()
				bar.Clear()
				report(rc, final)
				if !final.OK() {
					failed++
				}
			} else {
				mu.Lock()
				defer mu.Unlock()
				bar.Clear()
				color.Red("✗ %s: %v\n", arg, err)
				failed++
			}
			_ = bar.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	bar.Finish()

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	color.Green("✓ Sent %d documents\n", len(args))
	return nil
}

func interactive(ctx context.Context, a *app.App, opts pipeline.RunOptions) error {
	color.Cyan("Paste a URL, a file path or some text (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	prompt := color.New(color.FgGreen).PrintfFunc()

	for {
		prompt("\n> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.ToLower(line) == "exit" {
			break
		}

		rc, err := newContext(line, opts)
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		ingestOne(ctx, a, rc)
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

func search(ctx context.Context, a *app.App, query string, limit int) error {
	spinner := getSpinner(" Searching library...")
	entries, err := a.Search(ctx, query, limit)
	spinner.Finish()
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(entries) == 0 {
		color.Yellow("No matching documents\n")
		return nil
	}

	title := color.New(color.FgCyan, color.Bold).PrintfFunc()
	for i, e := range entries {
		title("%d. %s", i+1, e.Title)
		fmt.Printf(" (%s, %s, distance %.3f)\n", e.Format, e.DeliveredAt.Format("2006-01-02"), e.Distance)
		if e.Summary != "" {
			fmt.Printf("   %s\n", e.Summary)
		}
		if src := e.Metadata["source"]; src != "" {
			color.HiBlack("   %s\n", src)
		}
	}
	return nil
}

func report(rc *pipeline.RunContext, final pipeline.FinalStatus) {
	switch final.Status {
	case pipeline.StatusCompleted:
		title := ""
		if doc, err := rc.Rendered(); err == nil {
			title = doc.Title
		}
		color.Green("✓ %s → %s\n", title, rc.MetaString("delivery.location"))
	case pipeline.StatusCancelled:
		color.Yellow("⊘ %s: cancelled\n", describe(rc))
	default:
		color.Red("✗ %s: %s\n", describe(rc), final)
	}
	for _, w := range rc.Warnings() {
		color.Yellow("  ! %s\n", w)
	}
}

func describe(rc *pipeline.RunContext) string {
	if in := rc.Input(); in.Filename != "" {
		return in.Filename
	}
	if ref := rc.Reference(); ref != "" {
		if r := []rune(ref); len(r) > 60 {
			return string(r[:57]) + "..."
		}
		return ref
	}
	return "image"
}

func exitErr(ok bool) error {
	if ok {
		return nil
	}
	return fmt.Errorf("document was not delivered")
}

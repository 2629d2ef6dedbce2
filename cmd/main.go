package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/models"
	cfgPkg "github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/watcher"
	"github.com/xhad/docqa/server"
)

const usage = `Usage: docqa <command> [flags]

Commands:
  build   rebuild the index from the documents directory
  ask     answer questions interactively, or once with -q
  serve   serve /upload, /ask and /ws over HTTP
`

type options struct {
	configPath string
	query      string
	addr       string
	watch      bool
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	opts, err := parseFlags(command, os.Args[2:])
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// A missing .env is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, opts); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags(command string, args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	switch command {
	case "build":
	case "ask":
		fs.StringVar(&opts.query, "q", "", "Answer one question and exit")
	case "serve":
		fs.StringVar(&opts.addr, "addr", "", "Listen address, overrides server.addr")
		fs.BoolVar(&opts.watch, "watch", false, "Rebuild when the documents directory changes")
	default:
		return opts, fmt.Errorf("unknown command %q", command)
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func loadConfig(opts options) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.watch {
		cfg.Server.Watch = true
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

func run(ctx context.Context, command string, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, err := logger.NewWithConfig(logger.LoggerConfig{
		Level:       cfg.Log.Level,
		FilePath:    cfg.Log.File,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	var bar *progressbar.ProgressBar
	var onProgress func(done, total int)
	if command == "build" {
		bar = getProgressBar(-1, "Embedding chunks...")
		onProgress = func(done, total int) {
			bar.ChangeMax(total)
			bar.Set(done)
		}
	}

	a, err := newApp(ctx, cfg, log, onProgress)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "build":
		return runBuild(ctx, a, bar)
	case "ask":
		return runAsk(ctx, a, opts.query)
	case "serve":
		return runServe(ctx, a)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
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
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
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

func runBuild(ctx context.Context, a *app, bar *progressbar.ProgressBar) error {
	color.Blue("\nBuilding index from %s\n", a.config.Documents.Dir)

	stats, err := a.indexer.Rebuild(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	color.Green("\n✓ Indexed %d documents into %d chunks in %s\n",
		stats.Documents, stats.Chunks, stats.Duration.Round(time.Millisecond))
	if stats.Skipped > 0 {
		color.Yellow("! Skipped %d unreadable files, see the log for details\n", stats.Skipped)
	}
	return nil
}

func runAsk(ctx context.Context, a *app, query string) error {
	openSpinner := getSpinner("Opening index...")
	built, err := a.indexer.Open(ctx)
	openSpinner.Finish()
	if err != nil {
		return err
	}
	if built {
		color.Green("✓ Built a new index from %s\n", a.config.Documents.Dir)
	}

	if query != "" {
		return ask(ctx, a, query)
	}

	color.Cyan("\nAsk about your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		if err := ask(ctx, a, query); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			printAskError(err)
		}
	}

	return scanner.Err()
}

func ask(ctx context.Context, a *app, query string) error {
	spinner := getSpinner("Searching documents...")
	answer, err := a.engine.Answer(ctx, query)
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}

	printAnswer(answer)
	return nil
}

func printAnswer(answer *models.Answer) {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	assistantPrompt("Assistant: %s\n", answer.Text)

	if len(answer.Sources) == 0 {
		return
	}
	color.Yellow("\nSources:")
	for i, src := range answer.Sources {
		fmt.Printf("  [%d] %s (score %.3f)\n", i+1, color.MagentaString(src.Label()), src.Score)
		fmt.Printf("      %s\n", src.Snippet(300))
	}
}

func printAskError(err error) {
	var authErr *llm.AuthenticationError
	var genErr *llm.GenerationError
	switch {
	case errors.As(err, &authErr):
		color.Red("The model provider rejected the credentials, check %s: %v\n", cfgPkg.TokenEnv, err)
	case errors.As(err, &genErr):
		color.Red("Generation failed after %d attempts: %v\n", genErr.Attempts, genErr.Err)
	default:
		color.Red("Error: %v\n", err)
	}
}

func runServe(ctx context.Context, a *app) error {
	if _, err := a.indexer.Open(ctx); err != nil {
		return err
	}

	if a.config.Server.Watch {
		w, err := watcher.New(watcher.WatcherConfig{
			Dir:      a.config.Documents.Dir,
			Debounce: a.config.Server.WatchDebounce,
			OnChange: func(ctx context.Context) error {
				_, err := a.indexer.Rebuild(ctx)
				return err
			},
			Logger: a.logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				a.logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := server.New(a.engine, a.indexer, server.ServerConfig{
		DocumentsDir:   a.config.Documents.Dir,
		MaxUploadBytes: a.config.Server.MaxUploadMB << 20,
		Logger:         a.logger,
	})

	color.Cyan("Serving on %s\n", a.config.Server.Addr)
	return srv.ListenAndServe(ctx, a.config.Server.Addr)
}

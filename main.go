// Command doctrans estimates, translates and serves DeepL document translations.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/minios-linux/doctrans/cleanup"
	"github.com/minios-linux/doctrans/config"
	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/estimate"
	"github.com/minios-linux/doctrans/history"
	"github.com/minios-linux/doctrans/i18n"
	"github.com/minios-linux/doctrans/langmeta"
	"github.com/minios-linux/doctrans/lockfile"
	"github.com/minios-linux/doctrans/logging"
	"github.com/minios-linux/doctrans/materialize"
	"github.com/minios-linux/doctrans/outputs"
	"github.com/minios-linux/doctrans/progress"
	"github.com/minios-linux/doctrans/server"
	"github.com/minios-linux/doctrans/settings"
	"github.com/minios-linux/doctrans/store"
	"github.com/minios-linux/doctrans/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir    string
	configPath string
	apiKeyFlag string
	logLevel   string
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "doctrans",
		Short: "Translate documents with DeepL",
		Long: `doctrans — document translation with DeepL.

Estimates the billable characters of a document, translates it through the
DeepL text or document endpoint, and writes the result in the requested
format. Also runs an HTTP service for browser uploads.

Formats:
  txt            -> txt, pdf, docx
  pdf            -> pdf, docx
  docx, doc      -> pdf, docx
  xlsx           -> xlsx
  pptx           -> pptx

Commands:
  estimate    Count billable characters and estimate the cost
  translate   Translate a document
  serve       Run the HTTP service
  glossary    Manage DeepL glossaries
  history     Show or prune the billing history
  usage       Show the account's character usage
  auth        Manage the stored DeepL API key
  config      Manage the configuration file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			i18n.Init("")
			return logging.Setup(logLevel, "text", os.Stderr)
		},
	}

	root.SetGlobalNormalizationFunc(wordSepNormalizeFunc)

	// Global persistent flags, inherited by all subcommands
	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Working directory (uploads, downloads, data)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <root>/"+config.FileName+")")
	root.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "DeepL API key (or DEEPL_API_KEY env var)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newEstimateCmd(),
		newTranslateCmd(),
		newServeCmd(),
		newGlossaryCmd(),
		newHistoryCmd(),
		newUsageCmd(),
		newAuthCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Application wiring
// ---------------------------------------------------------------------------

// app is the resolved configuration plus the API key lookup result.
type app struct {
	cfg       *config.Config
	apiKey    string
	keySource settings.Source
}

func loadApp() (*app, error) {
	cfg, err := config.Load(rootDir, configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := logging.Setup(level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, err
	}

	key, src := settings.ResolveAPIKey(apiKeyFlag, cfg.DeepL.APIKey)
	if key != "" {
		logging.RegisterSecret(key)
	}
	if src == settings.SourceStore && cfg.DeepL.BaseURL == "" {
		cfg.DeepL.BaseURL = settings.GetBaseURL(settings.DeepL)
	}
	log.WithField("source", string(src)).Debug("Resolved API key")
	return &app{cfg: cfg, apiKey: key, keySource: src}, nil
}

func (a *app) client() (*deepl.Client, error) {
	if a.apiKey == "" {
		return nil, errors.New("no DeepL API key: use --api-key, DEEPL_API_KEY or 'doctrans auth set'")
	}
	return deepl.New(deepl.Options{
		APIKey:           a.apiKey,
		BaseURL:          a.cfg.DeepL.BaseURL,
		Proxy:            a.cfg.HTTP.Proxy,
		ConnectTimeout:   a.cfg.HTTP.ConnectTimeout,
		Timeout:          a.cfg.HTTP.Timeout,
		BatchMaxChars:    a.cfg.Batch.MaxChars,
		BatchMaxAttempts: a.cfg.Batch.MaxAttempts,
		BatchBaseDelay:   a.cfg.Batch.BaseDelay,
		Verbose:          log.IsLevelEnabled(log.DebugLevel),
	})
}

func (a *app) estimator() *estimate.Estimator {
	return estimate.New(estimate.Options{
		OCR:          a.cfg.OCR.Enabled,
		OCRLanguages: a.cfg.OCR.Languages,
		TempDir:      a.cfg.Dirs.Temp,
	})
}

func (a *app) translateOptions() translate.Options {
	return translate.Options{
		PricePerMillion:   a.cfg.Pricing.PerMillion,
		Currency:          a.cfg.Pricing.Currency,
		ChunkSize:         a.cfg.Text.ChunkSize,
		PollInterval:      a.cfg.Poll.Interactive,
		BatchPollInterval: a.cfg.Poll.Batch,
		MaxPollAttempts:   a.cfg.Poll.MaxAttempts,
		GlossaryID:        a.cfg.DeepL.GlossaryID,
	}
}

func (a *app) orchestrator(client *deepl.Client, outDir string, ledger *history.Ledger) (*translate.Orchestrator, error) {
	return translate.New(translate.Deps{
		Provider:     client,
		Materializer: materialize.New(materialize.Options{OutputDir: outDir, FontPath: a.cfg.PDF.Font}),
		History:      ledger,
		Estimator:    a.estimator(),
	}, a.translateOptions())
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("doctrans version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}

	return cmd
}

// ---------------------------------------------------------------------------
// estimate (local character count, no network)
// ---------------------------------------------------------------------------

func newEstimateCmd() *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "estimate FILE...",
		Short: "Count billable characters and estimate the cost",
		Long: `Extract the text of each document locally and report its character
count, the billable characters after the minimum document charge, and the
estimated cost. Nothing is sent to DeepL.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			rows := estimateFiles(ctx, a.estimator(), args, jobs)
			pricing := a.translateOptions()
			printEstimates(os.Stdout, rows, &pricing)

			if err := a.cfg.EnsureDirs(); err != nil {
				return err
			}
			ledger := history.New(a.cfg.HistoryPath())
			failed := 0
			for _, r := range rows {
				if r.err != nil {
					failed++
					continue
				}
				if r.characters > 0 {
					if err := ledger.RecordRaw(r.name, r.characters); err != nil {
						logWarning("Recording %s: %v", r.name, err)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be estimated", failed, len(rows))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Files estimated in parallel")

	return cmd
}

type estimateRow struct {
	name       string
	format     docformat.Format
	characters int
	billable   int
	floored    bool
	detail     string
	err        error
}

// estimateFiles estimates every path with at most limit running at once.
// Rows keep the order of paths.
func estimateFiles(ctx context.Context, est translate.Estimator, paths []string, limit int) []estimateRow {
	rows := make([]estimateRow, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, path := range paths {
		i, path := i, path
		rows[i].name = filepath.Base(path)
		g.Go(func() error {
			row := &rows[i]
			format, err := docformat.FromPath(path)
			if err != nil {
				row.err = err
				return nil
			}
			row.format = format
			n, detail, err := est.Estimate(gctx, path, string(format))
			row.detail = detail
			if err != nil {
				row.err = err
				return nil
			}
			row.characters = n
			row.billable, row.floored = translate.ApplyBillingFloor(format, n)
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func printEstimates(w io.Writer, rows []estimateRow, pricing *translate.Options) {
	nameWidth := len("FILE")
	for _, r := range rows {
		if len(r.name) > nameWidth {
			nameWidth = len(r.name)
		}
	}

	fmt.Fprintf(w, "%-*s  %-5s  %12s  %12s  %s\n", nameWidth, "FILE", "TYPE", "CHARACTERS", "BILLABLE", "COST")
	var totalBillable, ok int
	for _, r := range rows {
		if r.err != nil {
			fmt.Fprintf(w, "%-*s  %-5s  %s%s%s\n", nameWidth, r.name, r.format, colorRed, translate.UserMessage(r.err), colorReset)
			continue
		}
		billable := humanize.Comma(int64(r.billable))
		if r.floored {
			billable += "*"
		}
		fmt.Fprintf(w, "%-*s  %-5s  %12s  %12s  %s\n", nameWidth, r.name, r.format,
			humanize.Comma(int64(r.characters)), billable, formatCost(pricing.Cost(r.billable), currency(pricing)))
		totalBillable += r.billable
		ok++
	}
	if ok > 1 {
		fmt.Fprintf(w, "%s: %s billable, %s\n", i18n.Nf("%d file", "%d files", ok),
			humanize.Comma(int64(totalBillable)), formatCost(pricing.Cost(totalBillable), currency(pricing)))
	}
	for _, r := range rows {
		if r.floored {
			fmt.Fprintf(w, "* minimum charge of %s characters per document\n", humanize.Comma(translate.MinimumBilledCharacters))
			break
		}
	}
}

func currency(o *translate.Options) string {
	if o.Currency == "" {
		return "USD"
	}
	return o.Currency
}

// formatCost renders a cost with four decimals and thousands separators.
func formatCost(cost float64, ccy string) string {
	return humanize.FormatFloat("#,###.####", cost) + " " + ccy
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	to, format, glossary, outDir string
	force, batch                 bool
}

func newTranslateCmd() *cobra.Command {
	var targs translateArgs

	cmd := &cobra.Command{
		Use:   "translate FILE",
		Short: "Translate a document",
		Long: `Translate a document with DeepL and write the result to the downloads
directory as <name>_jp.<ext> or <name>_en.<ext>.

txt files go through the text endpoint; pdf, docx, doc, xlsx and pptx go
through the document endpoint. A result already produced for the same file
content, target and format is reused unless --force is given.

Examples:
  doctrans translate memo.docx --to JA
  doctrans translate report.pdf --to EN-US --format docx
  doctrans translate notes.txt --to EN-GB --format pdf --batch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runTranslate(ctx, a, args[0], targs)
		},
	}

	cmd.Flags().StringVar(&targs.to, "to", langmeta.DefaultTarget, "Target language: JA, EN-US, EN-GB")
	cmd.Flags().StringVar(&targs.format, "format", "", "Output format (default: the source format when allowed)")
	cmd.Flags().StringVar(&targs.glossary, "glossary", "", "Glossary ID (default: deepl.glossary_id)")
	cmd.Flags().StringVarP(&targs.outDir, "output-dir", "o", "", "Output directory (default: dirs.downloads)")
	cmd.Flags().BoolVar(&targs.force, "force", false, "Translate again even when a cached result exists")
	cmd.Flags().BoolVar(&targs.batch, "batch", false, "Use the slower batch cadence and batched text requests")

	_ = cmd.RegisterFlagCompletionFunc("to", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		out := make([]string, 0, len(langmeta.Targets))
		for _, t := range langmeta.Targets {
			out = append(out, fmt.Sprintf("%s\t%s", t, langmeta.Resolve(t).Name))
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		src, err := docformat.FromPath(args[0])
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var out []string
		for _, f := range src.LegalOutputs() {
			out = append(out, string(f))
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// resolveOutput returns the output format for path: the flag value when
// given, otherwise the default for the source format. Illegal pairs fail
// here, before any network call.
func resolveOutput(path, flag string) (docformat.Format, docformat.Format, error) {
	src, err := docformat.FromPath(path)
	if err != nil {
		return "", "", err
	}
	out := translate.DefaultOutput(src)
	if flag != "" {
		if out, err = docformat.Parse(strings.TrimPrefix(flag, ".")); err != nil {
			return "", "", &docformat.UnsupportedFormatError{Source: src, Output: docformat.Format(flag), Reason: "unknown output format"}
		}
	}
	if err := docformat.CheckOutput(src, out); err != nil {
		return "", "", err
	}
	return src, out, nil
}

func runTranslate(ctx context.Context, a *app, path string, args translateArgs) error {
	if !fileExists(path) {
		return fmt.Errorf("%s: no such file", path)
	}
	_, out, err := resolveOutput(path, args.format)
	if err != nil {
		return errors.New(translate.UserMessage(err))
	}
	target := langmeta.NormalizeTarget(args.to)

	if err := a.cfg.EnsureDirs(); err != nil {
		return err
	}
	outDir := args.outDir
	if outDir == "" {
		outDir = a.cfg.Dirs.Downloads
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	cache, err := lockfile.Load(outDir)
	if err != nil {
		return err
	}
	sum, err := lockfile.HashFile(path)
	if err != nil {
		return err
	}
	key := lockfile.Key(sum, target, string(out))
	if !args.force {
		if e, ok := cache.Lookup(key); ok {
			logInfo(i18n.T("Reusing existing translation %s (use --force to translate again)"), cache.OutputPath(e))
			return nil
		}
	}

	client, err := a.client()
	if err != nil {
		return err
	}
	ledger := history.New(a.cfg.HistoryPath())
	orch, err := a.orchestrator(client, outDir, ledger)
	if err != nil {
		return err
	}

	req := translate.Request{
		SourcePath:   path,
		Target:       target,
		OutputFormat: string(out),
		GlossaryID:   args.glossary,
		Batch:        args.batch,
		OnTransition: func(j translate.Job) {
			log.WithFields(log.Fields{"attempt": j.Attempt, "state": j.State, "document_id": j.DocumentID}).Debug("Job transition")
		},
	}
	if err := orch.Validate(req); err != nil {
		return errors.New(translate.UserMessage(err))
	}

	logInfo("Translating %s to %s (%s)", filepath.Base(path), target, strings.ToUpper(string(out)))
	res, err := runWithBar(ctx, orch, req, filepath.Base(path))
	if err != nil {
		if ctx.Err() != nil {
			logWarning("Translation interrupted")
		}
		return errors.New(translate.UserMessage(err))
	}

	logSuccess(i18n.T("Translated %s -> %s"), filepath.Base(path), res.OutputPath)
	logInfo(i18n.T("%s characters billed, estimated cost %s"), humanize.Comma(int64(res.Billed)), formatCost(res.Cost, res.Currency))
	if res.FallbackApplied {
		logWarning("Minimum charge of %s characters applied (reported: %s)",
			humanize.Comma(translate.MinimumBilledCharacters), humanize.Comma(int64(res.ReportedBilled)))
	}

	cache.Record(key, lockfile.Entry{
		Source:     filepath.Base(path),
		Output:     res.OutputPath,
		DocumentID: res.DocumentID,
		Billed:     res.Billed,
		Cost:       res.Cost,
	})
	if err := cache.Save(); err != nil {
		logWarning("Saving result cache: %v", err)
	}
	return nil
}

// runWithBar runs req while drawing a progress bar on stderr. Log output is
// routed through the bar container so lines do not tear the bar.
func runWithBar(ctx context.Context, orch *translate.Orchestrator, req translate.Request, name string) (*translate.Result, error) {
	container := mpb.NewWithContext(ctx, mpb.WithOutput(os.Stderr), mpb.WithWidth(40))
	log.SetOutput(container)
	defer log.SetOutput(os.Stderr)

	var label atomic.Value
	label.Store("")
	bar := container.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string { return label.Load().(string) }),
		),
	)

	rep := progress.Func(func(percent int, message string) {
		label.Store(message)
		bar.SetCurrent(int64(percent))
	})

	res, err := orch.Run(ctx, req, rep)
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetCurrent(100)
	}
	container.Wait()
	return res, err
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Run the HTTP service: uploads, background translation jobs, progress
polling, history and downloads. Old files in the uploads, downloads and
temp directories are removed on a schedule. Prometheus metrics are served
on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runServe(ctx, a, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")

	return cmd
}

func runServe(ctx context.Context, a *app, addr string) error {
	cfg := a.cfg
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	client, err := a.client()
	if err != nil {
		return err
	}

	jobs, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer jobs.Close()
	if _, err := jobs.FailUnfinished(ctx, "interrupted by a restart"); err != nil {
		return err
	}

	memory := progress.NewMemoryStore(time.Hour)
	memory.Start()
	defer memory.Stop()
	files := progress.NewFileStore(cfg.Dirs.Temp)

	var sink outputs.Sink = outputs.LocalSink{}
	if cfg.Outputs.GCSBucket != "" {
		gcs, err := outputs.NewGCSSink(ctx, cfg.Outputs.GCSBucket, cfg.Outputs.GCSPrefix)
		if err != nil {
			return err
		}
		sink = gcs
		logInfo("Mirroring outputs to gs://%s/%s", cfg.Outputs.GCSBucket, cfg.Outputs.GCSPrefix)
	}
	defer sink.Close()

	ledger := history.New(cfg.HistoryPath())
	orch, err := a.orchestrator(client, cfg.Dirs.Downloads, ledger)
	if err != nil {
		return err
	}
	mgr, err := translate.NewManager(orch, translate.ManagerOptions{
		Store:  jobs,
		Memory: memory,
		Files:  files,
		Sink:   sink,
	})
	if err != nil {
		return err
	}
	results, err := lockfile.Load(cfg.Dirs.Downloads)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		UploadsDir:      cfg.Dirs.Uploads,
		DownloadsDir:    cfg.Dirs.Downloads,
		MaxBytes:        cfg.Uploads.MaxBytes,
		PricePerMillion: cfg.Pricing.PerMillion,
		Currency:        cfg.Pricing.Currency,
		Version:         version,
	}, server.Deps{
		Jobs:       mgr,
		Estimator:  a.estimator(),
		Glossaries: client,
		History:    ledger,
		Progress:   files,
		Results:    results,
	})
	if err != nil {
		return err
	}
	sched := newCleanupScheduler(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(addr) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		mgr.Shutdown()
		if n := results.Clean(); n > 0 {
			if err := results.Save(); err != nil {
				log.WithError(err).Warn("Failed to save result cache")
			}
		}
		return err
	})

	logSuccess("Listening on %s (key from %s)", addr, a.keySource)
	if err := g.Wait(); err != nil {
		return err
	}
	logInfo("Server stopped")
	return nil
}

// ---------------------------------------------------------------------------
// glossary
// ---------------------------------------------------------------------------

// newCleanupScheduler sweeps the temp area only. Uploads and outputs leave
// through uploads.Purge, which also drops their history rows.
func newCleanupScheduler(cfg *config.Config) *cleanup.Scheduler {
	return cleanup.NewScheduler(cfg.Cleanup.Interval, cfg.Cleanup.MaxAge, cfg.Dirs.Temp)
}

func newGlossaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: "Manage DeepL glossaries",
	}
	cmd.AddCommand(newGlossaryListCmd(), newGlossaryCreateCmd(), newGlossaryDeleteCmd())
	return cmd
}

func newGlossaryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List glossaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := glossaryClient()
			if err != nil {
				return err
			}
			gs, err := client.ListGlossaries(cmd.Context())
			if err != nil {
				return errors.New(translate.UserMessage(err))
			}
			if len(gs) == 0 {
				logInfo("No glossaries")
				return nil
			}
			fmt.Printf("%-38s  %-24s  %-9s  %8s  %s\n", "ID", "NAME", "LANGS", "ENTRIES", "READY")
			for _, g := range gs {
				ready := colorRed + "no" + colorReset
				if g.Ready {
					ready = colorGreen + "yes" + colorReset
				}
				fmt.Printf("%-38s  %-24s  %-9s  %8d  %s\n", g.ID, g.Name,
					strings.ToUpper(g.SourceLang)+"->"+strings.ToUpper(g.TargetLang), g.EntryCount, ready)
			}
			return nil
		},
	}
}

func newGlossaryCreateCmd() *cobra.Command {
	var name, from, to string

	cmd := &cobra.Command{
		Use:   "create FILE",
		Short: "Create a glossary from a term list",
		Long: `Create a glossary from a file with one "source<TAB>target" or
"source,target" pair per line. Blank lines and lines starting with # are
skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := parseGlossaryEntries(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			client, err := glossaryClient()
			if err != nil {
				return err
			}
			g, err := client.CreateGlossary(cmd.Context(), deepl.GlossaryRequest{
				Name:       name,
				SourceLang: strings.ToLower(from),
				TargetLang: strings.ToLower(langmeta.Primary(to)),
				Entries:    entries,
			})
			if err != nil {
				return errors.New(translate.UserMessage(err))
			}
			logSuccess("Created glossary %s (%s, %d entries)", g.ID, g.Name, g.EntryCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Glossary name (default: file name)")
	cmd.Flags().StringVar(&from, "from", "en", "Source language")
	cmd.Flags().StringVar(&to, "to", "ja", "Target language")

	return cmd
}

func newGlossaryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a glossary",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := glossaryClient()
			if err != nil {
				return err
			}
			if err := client.DeleteGlossary(cmd.Context(), args[0]); err != nil {
				return errors.New(translate.UserMessage(err))
			}
			logSuccess("Deleted glossary %s", args[0])
			return nil
		},
	}
}

func glossaryClient() (*deepl.Client, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	return a.client()
}

// parseGlossaryEntries reads source/target pairs separated by a tab or,
// when the line has no tab, by the first comma.
func parseGlossaryEntries(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sep := "\t"
		if !strings.Contains(line, sep) {
			sep = ","
		}
		src, dst, ok := strings.Cut(line, sep)
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("line %d: expected source and target separated by a tab or comma", lineNo)
		}
		entries[src] = dst
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("no entries")
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func newHistoryCmd() *cobra.Command {
	var (
		remove string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or prune the billing history",
		Long: `Show one line per document with the smallest raw character count,
the largest billed count and its cost. --delete removes every row of a
document and of its translations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ledger := history.New(a.cfg.HistoryPath())

			if remove != "" {
				n, err := ledger.Remove(remove)
				if err != nil {
					return err
				}
				logSuccess("Removed %d history rows for %s", n, langmeta.LogicalName(remove))
				return nil
			}

			sums, err := ledger.Summaries()
			if err != nil {
				return err
			}
			if len(sums) == 0 {
				logInfo("History is empty")
				return nil
			}
			if limit > 0 && limit < len(sums) {
				sums = sums[:limit]
			}
			printHistory(os.Stdout, sums, a.cfg.Pricing.Currency)
			return nil
		},
	}

	cmd.Flags().StringVar(&remove, "delete", "", "Remove the rows of a document")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many documents")

	return cmd
}

func printHistory(w io.Writer, sums []history.Summary, ccy string) {
	nameWidth := len("DOCUMENT")
	for _, s := range sums {
		if len(s.Name) > nameWidth {
			nameWidth = len(s.Name)
		}
	}
	fmt.Fprintf(w, "%-*s  %12s  %12s  %16s  %s\n", nameWidth, "DOCUMENT", "RAW", "BILLED", "COST", "LAST")
	var total float64
	for _, s := range sums {
		raw, billed, cost := "-", "-", "-"
		if s.HasRaw {
			raw = humanize.Comma(int64(s.Raw))
		}
		if s.HasBilled {
			billed = humanize.Comma(int64(s.Billed))
			cost = formatCost(s.Cost, ccy)
			total += s.Cost
		}
		fmt.Fprintf(w, "%-*s  %12s  %12s  %16s  %s\n", nameWidth, s.Name, raw, billed, cost, humanize.Time(s.Last))
	}
	fmt.Fprintf(w, "%s: %s\n", i18n.Nf("%d file", "%d files", len(sums)), formatCost(total, ccy))
}

// ---------------------------------------------------------------------------
// usage
// ---------------------------------------------------------------------------

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show the account's character usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			u, err := client.Usage(cmd.Context())
			if err != nil {
				return errors.New(translate.UserMessage(err))
			}

			pricing := a.translateOptions()
			fmt.Printf("Endpoint:   %s\n", client.BaseURL())
			fmt.Printf("Characters: %s / %s\n", humanize.Comma(u.CharacterCount), humanize.Comma(u.CharacterLimit))
			if u.CharacterLimit > 0 {
				percent := int(u.CharacterCount * 100 / u.CharacterLimit)
				fmt.Printf("Used:       %s\n", progressBar(percent, 30))
			}
			fmt.Printf("Cost:       %s\n", formatCost(pricing.Cost(int(u.CharacterCount)), currency(&pricing)))
			return nil
		},
	}
}

// progressBar renders a colored bar: green when nearly unused, yellow in
// the middle, red when nearly exhausted.
func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100

	color := colorGreen
	switch {
	case percent >= 90:
		color = colorRed
	case percent >= 50:
		color = colorYellow
	}
	return color + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + colorReset +
		fmt.Sprintf(" %3d%%", percent)
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored DeepL API key",
		Long: `Manage the DeepL API key kept in the credential store.

The key is looked up in this order: --api-key, the environment or config
file (DOCTRANS_DEEPL_API_KEY, DEEPL_API_KEY, DEEPL_AUTH_KEY, deepl.api_key),
then the credential store. Keys ending in ":fx" use the free endpoint.

Examples:
  doctrans auth set                 Prompt for a key
  doctrans auth set KEY             Store KEY
  doctrans auth show                Show the stored key and lookup order
  doctrans auth remove              Remove the stored key`,
	}

	cmd.AddCommand(newAuthSetCmd(), newAuthShowCmd(), newAuthRemoveCmd())

	return cmd
}

func newAuthSetCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "set [KEY]",
		Short: "Store a DeepL API key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				existing := settings.GetAPIKey(settings.DeepL)
				fmt.Fprintf(os.Stderr, "\n%sDeepL — API Key Setup%s\n", colorBlue, colorReset)
				fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
				fmt.Fprintf(os.Stderr, "\n  Get your API key from: %shttps://www.deepl.com/account/summary%s\n\n", colorGreen, colorReset)
				if existing != "" {
					fmt.Fprintf(os.Stderr, "  Current key: %s%s%s\n", colorYellow, settings.MaskKey(existing), colorReset)
					fmt.Fprintf(os.Stderr, "  Enter new key to replace, or press Enter to keep: ")
				} else {
					fmt.Fprintf(os.Stderr, "  Enter API key: ")
				}

				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() {
					return errors.New("no input received")
				}
				key = strings.TrimSpace(scanner.Text())
				if key == "" {
					if existing != "" {
						logInfo("Keeping existing key")
						return nil
					}
					return errors.New("no API key provided")
				}
			}

			if err := settings.SetAPIKey(settings.DeepL, key, baseURL); err != nil {
				return fmt.Errorf("saving API key: %w", err)
			}
			info := settings.Get(settings.DeepL)
			plan := "pro"
			if info.Free() {
				plan = "free"
			}
			logSuccess("DeepL API key saved (%s plan, %s)", plan, settings.FilePath())
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Custom API base URL")

	return cmd
}

func newAuthShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "show",
		Aliases: []string{"status"},
		Short:   "Show the stored key and where the active key comes from",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(os.Stderr, "\n%sDeepL Credentials%s\n", colorBlue, colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

			fmt.Fprintf(os.Stderr, "\n  %sCredential Store%s (%s)\n", colorYellow, colorReset, settings.FilePath())
			if info := settings.Get(settings.DeepL); info != nil && info.Key != "" {
				fmt.Fprintf(os.Stderr, "  %-14s %sconfigured%s (key: %s)\n", settings.DeepL, colorGreen, colorReset, settings.MaskKey(info.Key))
				if info.BaseURL != "" {
					fmt.Fprintf(os.Stderr, "  %14s endpoint: %s\n", "", info.BaseURL)
				}
			} else {
				fmt.Fprintf(os.Stderr, "  %-14s %snot configured%s\n", settings.DeepL, colorRed, colorReset)
			}

			fmt.Fprintf(os.Stderr, "\n  %sEnvironment Variables%s\n", colorYellow, colorReset)
			for _, name := range []string{"DOCTRANS_DEEPL_API_KEY", "DEEPL_API_KEY", "DEEPL_AUTH_KEY"} {
				if v := os.Getenv(name); v != "" {
					fmt.Fprintf(os.Stderr, "  %s: %s%s%s\n", name, colorGreen, settings.MaskKey(v), colorReset)
				} else {
					fmt.Fprintf(os.Stderr, "  %s: %snot set%s\n", name, colorRed, colorReset)
				}
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\n  %sActive Key%s\n", colorYellow, colorReset)
			if a.apiKey == "" {
				fmt.Fprintf(os.Stderr, "  %snone%s\n\n", colorRed, colorReset)
				return nil
			}
			fmt.Fprintf(os.Stderr, "  %s from %s, endpoint %s\n\n", settings.MaskKey(a.apiKey), a.keySource,
				deepl.ResolveBaseURL(a.apiKey, a.cfg.DeepL.BaseURL))
			return nil
		},
	}
}

func newAuthRemoveCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "remove",
		Aliases: []string{"logout"},
		Short:   "Remove the stored key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if err := settings.RemoveAll(); err != nil {
					return fmt.Errorf("removing credentials: %w", err)
				}
				logSuccess("All stored credentials removed")
				return nil
			}
			if err := settings.Remove(settings.DeepL); err != nil {
				return fmt.Errorf("removing DeepL credentials: %w", err)
			}
			logSuccess("DeepL credentials removed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Delete the whole credential file")

	return cmd
}

// ---------------------------------------------------------------------------
// config
// ---------------------------------------------------------------------------

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = filepath.Join(rootDir, config.FileName)
			}
			if err := config.WriteDefault(path, rootDir, force); err != nil {
				return err
			}
			logSuccess("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			c := a.cfg
			rows := []struct{ key, value string }{
				{"deepl.base_url", deepl.ResolveBaseURL(a.apiKey, c.DeepL.BaseURL)},
				{"deepl.glossary_id", c.DeepL.GlossaryID},
				{"pricing", fmt.Sprintf("%g %s per million characters", c.Pricing.PerMillion, c.Pricing.Currency)},
				{"dirs.uploads", c.Dirs.Uploads},
				{"dirs.downloads", c.Dirs.Downloads},
				{"dirs.temp", c.Dirs.Temp},
				{"dirs.data", c.Dirs.Data},
				{"poll", fmt.Sprintf("%s interactive, %s batch, %d attempts", c.Poll.Interactive, c.Poll.Batch, c.Poll.MaxAttempts)},
				{"text.chunk_size", fmt.Sprint(c.Text.ChunkSize)},
				{"uploads.max_bytes", humanize.IBytes(uint64(c.Uploads.MaxBytes))},
				{"server.addr", c.Server.Addr},
				{"cleanup", fmt.Sprintf("every %s, max age %s", c.Cleanup.Interval, c.Cleanup.MaxAge)},
				{"outputs.gcs_bucket", c.Outputs.GCSBucket},
				{"api key", string(a.keySource)},
			}
			for _, r := range rows {
				v := r.value
				if v == "" {
					v = "-"
				}
				fmt.Printf("%-20s %s\n", r.key, v)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// wordSepNormalizeFunc accepts --output_dir as --output-dir.
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

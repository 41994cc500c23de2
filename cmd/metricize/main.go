// Command metricize rewrites imperial measurements in HTML to show their
// metric equivalents. Each recognized phrase is struck through and followed
// by the converted value, e.g. "5 miles" becomes "~~5 miles~~ (8.05 km)".
//
// Usage (stdin):
//
//	cat page.html | metricize > page.metric.html
//
// Usage (fetch URL or read a file):
//
//	metricize -url "https://example.com/recipe"
//	metricize -file ./page.html
//
// Usage (directory mode, optionally converting new files as they appear):
//
//	metricize -dir ./pages -out ./converted [-watch]
//
// Usage (live mode, one HTML fragment per input line):
//
//	tail -f fragments.log | metricize -stream
//
// Debug (print conversions found inside selector matches):
//
//	metricize -file ./page.html -selector "div.ingredients"
//
// Metrics go to Datadog when -metrics-backend (or METRICS_BACKEND) is
// "datadog"; extra tags come from METRICS_TAGS. Applied conversions are stored
// when -ledger names a backend; the DSN comes from -ledger-dsn or LEDGER_DSN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"metricize/internal/dirwatch"
	"metricize/internal/ledger"
	_ "metricize/internal/ledger/all"
	"metricize/internal/metrics"
	"metricize/internal/metrics/datadog"
	"metricize/internal/pageload"
	"metricize/internal/rewrite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(
		ctx,
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	)
	stop()
	os.Exit(code)
}

// run is split out from main so we can unit test the command without spawning
// an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("metricize", flag.ContinueOnError)
	fs.SetOutput(stderr)

	urlFlag := fs.String("url", "", "Optional: fetch HTML from URL instead of stdin")
	fileFlag := fs.String("file", "", "Optional: read HTML from file instead of stdin")
	dirFlag := fs.String("dir", "", "Optional: directory of .html/.htm files to convert (requires -out)")
	outFlag := fs.String("out", "", "Output directory for -dir")
	watchFlag := fs.Bool("watch", false, "With -dir: keep running and convert files as they are written")
	streamFlag := fs.Bool("stream", false, "Live mode: read one HTML fragment per line and print each converted")
	debugSelector := fs.String("selector", "", "Debug: print conversions inside elements matching this CSS selector")
	timeout := fs.Duration("timeout", 20*time.Second, "Timeout for -url fetch")
	metricsBackendFlg := fs.String("metrics-backend", "", "metrics backend: none or datadog (overrides env METRICS_BACKEND)")
	ledgerKind := fs.String("ledger", "", "Optional: record conversions to sqlite, postgres or mssql")
	ledgerDSN := fs.String("ledger-dsn", "", "Ledger DSN (overrides env LEDGER_DSN)")
	ledgerTable := fs.String("ledger-table", ledger.DefaultTable, "Ledger table name")
	verbose := fs.Bool("v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return 2
	}

	logger := log.New(stderr, "", log.LstdFlags)
	logf := func(format string, args ...any) {
		if *verbose {
			logger.Printf(format, args...)
		}
	}

	// Flag validation.
	switch {
	case *urlFlag != "" && *fileFlag != "":
		fmt.Fprintf(stderr, "-url and -file are mutually exclusive\n")
		return 2
	case *dirFlag != "" && *outFlag == "":
		fmt.Fprintf(stderr, "-dir requires -out\n")
		return 2
	case *watchFlag && *dirFlag == "":
		fmt.Fprintf(stderr, "-watch requires -dir and -out\n")
		return 2
	case *streamFlag && (*dirFlag != "" || *debugSelector != ""):
		fmt.Fprintf(stderr, "-stream cannot be combined with -dir or -selector\n")
		return 2
	}

	// Metrics backend: flag, then env, then disabled.
	backendName := strings.TrimSpace(*metricsBackendFlg)
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		// Buffers metrics and submits periodically, plus once at shutdown.
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    "metricize",
			Tags:       extraTags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			logf("metrics: backend=%v tags=%v", backendName, extraTags)
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					logger.Printf("metrics: datadog close/flush error: %v", err)
				}
				metrics.SetBackend(nil)
			}()
		}
	case "", "none":
		logf("metrics: disabled (backend=%q)", backendName)
	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	// Optional ledger.
	var (
		store ledger.Store
		buf   *ledger.Buffer
	)
	if *ledgerKind != "" {
		dsn := strings.TrimSpace(*ledgerDSN)
		if dsn == "" {
			dsn = os.Getenv("LEDGER_DSN")
		}
		if dsn == "" {
			fmt.Fprintf(stderr, "-ledger requires -ledger-dsn or LEDGER_DSN\n")
			return 2
		}
		if !ledger.ValidIdent(*ledgerTable) {
			fmt.Fprintf(stderr, "invalid -ledger-table %q\n", *ledgerTable)
			return 2
		}

		s, err := ledger.Open(ctx, ledger.Config{Kind: *ledgerKind, DSN: dsn, Table: *ledgerTable})
		if err != nil {
			fmt.Fprintf(stderr, "open ledger: %v\n", err)
			return 1
		}
		defer s.Close()
		if err := s.EnsureSchema(ctx); err != nil {
			fmt.Fprintf(stderr, "ledger schema: %v\n", err)
			return 1
		}
		store = s
		buf = ledger.NewBuffer()
		logf("ledger: kind=%s table=%s", *ledgerKind, *ledgerTable)
	}

	// Ledger failures are logged, never fatal.
	flushLedger := func() {
		if store == nil {
			return
		}
		n, err := buf.FlushTo(context.WithoutCancel(ctx), store)
		if err != nil {
			logger.Printf("ledger: %v", err)
			return
		}
		if n > 0 {
			logf("ledger: wrote %d rows", n)
		}
	}
	defer flushLedger()

	opts := pageload.Options{}
	if *verbose {
		opts.Logger = logger
	}
	if buf != nil {
		opts.Recorder = buf
	}

	start := time.Now()
	defer func() { logf("completed in %s", time.Since(start).Truncate(time.Millisecond)) }()

	// Live fragment mode.
	if *streamFlag {
		st, err := pageload.Stream(ctx, stdin, stdout, opts)
		logStats(logf, "stream", st)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "stream: %v\n", err)
			return 1
		}
		return 0
	}

	// Directory mode.
	if *dirFlag != "" {
		rep, err := pageload.ConvertDir(ctx, *dirFlag, *outFlag, opts)
		if err != nil {
			fmt.Fprintf(stderr, "dir convert: %v\n", err)
			return 1
		}
		for _, f := range rep.Failed {
			logger.Printf("skipped %s: %v", f.Name, f.Err)
		}
		logStats(logf, fmt.Sprintf("dir files=%d", len(rep.Converted)), rep.Stats)
		flushLedger()

		if !*watchFlag {
			return 0
		}
		if err := watchDir(ctx, *dirFlag, *outFlag, opts, logger, logf, flushLedger); err != nil {
			fmt.Fprintf(stderr, "watch: %v\n", err)
			return 1
		}
		return 0
	}

	// Single input mode: stdin, -file or -url.
	loader := pageload.NewLoader(httpClient, *timeout)
	in := pageload.Input{URL: *urlFlag, File: *fileFlag, Stdin: stdin}
	html, err := loader.Load(ctx, in)
	if err != nil {
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}

	if *debugSelector != "" {
		if err := pageload.DebugPrintConversions(stdout, html, *debugSelector); err != nil {
			fmt.Fprintf(stderr, "debug selector: %v\n", err)
			return 1
		}
		return 0
	}

	opts.Page = pageName(in)
	res, err := pageload.ConvertHTML(ctx, html, opts)
	if err != nil {
		fmt.Fprintf(stderr, "convert: %v\n", err)
		return 1
	}
	logStats(logf, opts.Page, res.Stats)

	if _, err := io.WriteString(stdout, res.HTML); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}

// watchDir converts HTML files under in as they are written, mirroring their
// relative path under out, until ctx is done.
func watchDir(
	ctx context.Context,
	in, out string,
	opts pageload.Options,
	logger *log.Logger,
	logf func(string, ...any),
	afterEach func(),
) error {
	absIn, err := filepath.Abs(in)
	if err != nil {
		return err
	}

	w, err := dirwatch.New(dirwatch.WithLogger(logger), dirwatch.WithIgnoreDir(out))
	if err != nil {
		return err
	}
	defer w.Stop()

	err = w.Watch(absIn, func(path string) {
		rel, err := filepath.Rel(absIn, path)
		if err != nil {
			logger.Printf("watch: %s: %v", path, err)
			return
		}
		fo := opts
		fo.Page = rel
		st, err := pageload.ConvertFile(ctx, path, filepath.Join(out, rel), fo)
		if err != nil {
			logger.Printf("watch: %v", err)
			return
		}
		logStats(logf, rel, st)
		afterEach()
	})
	if err != nil {
		return err
	}

	logf("watch: converting new files under %s", absIn)
	<-ctx.Done()
	return nil
}

func pageName(in pageload.Input) string {
	switch {
	case in.URL != "":
		return in.URL
	case in.File != "":
		return filepath.Base(in.File)
	}
	return "stdin"
}

func logStats(logf func(string, ...any), what string, st rewrite.Stats) {
	logf("%s: visited=%d rewritten=%d converted=%d skipped=%d failures=%d",
		what, st.Visited, st.Rewritten, st.Converted, st.Skipped, st.Failures)
}

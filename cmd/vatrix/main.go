package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/vatrix/internal/receipt"
	"github.com/zombor/vatrix/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// rootConfig holds the flags shared by every subcommand
type rootConfig struct {
	extractURL *string
	rulesURL   *string
	apiKey     *string
	concurrent *bool
	window     *int
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	rootFlags := ff.NewFlagSet("vatrix")
	cfg := rootConfig{
		extractURL: rootFlags.StringLong("extract-url", "", "Extraction service endpoint URL"),
		rulesURL:   rootFlags.StringLong("rules-url", "", "Rules evaluation endpoint URL"),
		apiKey:     rootFlags.StringLong("api-key", "", "API key sent as a bearer token to both services"),
		concurrent: rootFlags.BoolLong("concurrent", "Process files in parallel windows"),
		window:     rootFlags.IntLong("window", receipt.DefaultWindowSize, "Files per window in concurrent mode"),
	}

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		port     = serveFlags.IntLong("port", 8080, "HTTP server port")
		authUser = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "vatrix serve [FLAGS]",
		ShortHelp: "run the upload and analysis HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			service, err := newService(cfg)
			if err != nil {
				return err
			}
			return serve(ctx, service, *port, receipt.BasicAuth{Username: *authUser, Password: *authPass})
		},
	}

	scanFlags := ff.NewFlagSet("scan").SetParent(rootFlags)
	var (
		company = scanFlags.StringLong("company", "", "Company name")
		country = scanFlags.StringLong("country", "", "Company country code")
		vatID   = scanFlags.StringLong("vat-id", "", "Company VAT ID (optional)")
		email   = scanFlags.StringLong("email", "", "Contact email (optional)")
		outDir  = scanFlags.StringLong("out-dir", "", "Directory for JSON, CSV and XLSX exports (optional)")
	)
	scanCmd := &ff.Command{
		Name:      "scan",
		Usage:     "vatrix scan [FLAGS] FILE...",
		ShortHelp: "analyze receipt files once and print the results",
		Flags:     scanFlags,
		Exec: func(ctx context.Context, args []string) error {
			service, err := newService(cfg)
			if err != nil {
				return err
			}
			details := receipt.CompanyDetails{Name: *company, Country: *country, VATID: *vatID, Email: *email}
			return scan(ctx, service, details, args, *outDir)
		},
	}

	rootCmd := &ff.Command{
		Name:        "vatrix",
		Usage:       "vatrix [FLAGS] <SUBCOMMAND> ...",
		ShortHelp:   "assess receipts for VAT refund eligibility",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{serveCmd, scanCmd},
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("VATRIX"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
	default:
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newService wires the remote client, pipeline and orchestrator into a session
func newService(cfg rootConfig) (*receipt.Service, error) {
	client, err := scanning.NewClient(scanning.Config{
		ExtractURL: *cfg.extractURL,
		RulesURL:   *cfg.rulesURL,
		APIKey:     *cfg.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring client: %w", err)
	}

	mode := "sequential"
	if *cfg.concurrent {
		mode = "concurrent"
	}
	slog.Info("Initializing pipeline", "mode", mode, "window", *cfg.window)

	pipeline := receipt.NewPipeline(client, client)
	orchestrator := receipt.NewOrchestrator(pipeline, receipt.BatchOptions{
		Concurrent: *cfg.concurrent,
		WindowSize: *cfg.window,
	})
	return receipt.NewService(orchestrator), nil
}

func serve(ctx context.Context, service *receipt.Service, port int, basicAuth receipt.BasicAuth) error {
	server := receipt.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", port)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if basicAuth.Username != "" || basicAuth.Password != "" {
		slog.Info("Basic auth enabled", "user", basicAuth.Username)
	}

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down...")
		return nil
	}
}

func scan(ctx context.Context, service *receipt.Service, company receipt.CompanyDetails, paths []string, outDir string) error {
	if len(paths) == 0 {
		return errors.New("at least one file is required")
	}
	if err := service.SetCompany(company); err != nil {
		return err
	}

	files := make([]receipt.File, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		files = append(files, receipt.File{
			Name:        filepath.Base(path),
			Size:        info.Size(),
			ContentType: receipt.ContentTypeFor(path),
			Source:      receipt.PathSource(path),
		})
	}

	if _, err := service.AddFiles(files); err != nil {
		var verr *receipt.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		for _, r := range verr.Rejections {
			slog.Warn("File rejected", "filename", r.Name, "reason", r.Reason)
		}
	}

	if err := service.Analyze(ctx); err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}

	for _, qf := range service.Files() {
		printResult(qf)
	}
	s := service.Summary()
	fmt.Printf("\n%d receipts: %d approved, %d not eligible, %d need review, %d failed\n",
		s.TotalReceipts, s.ApprovedCount, s.NotEligibleCount, s.ReviewCount, s.ErrorCount)
	fmt.Printf("VAT found %s, refundable %s\n", formatAmount(s.TotalVATFound), formatAmount(s.TotalRefundable))

	if outDir == "" {
		return nil
	}
	writer, err := receipt.NewDirWriter(outDir)
	if err != nil {
		return err
	}
	written, err := service.WriteExports(writer)
	if err != nil {
		return err
	}
	for _, p := range written {
		fmt.Println(p)
	}
	return nil
}

func printResult(qf receipt.QueuedFile) {
	if qf.Status == receipt.StatusError {
		fmt.Printf("%-32s error         %s\n", qf.File.Name, qf.Error)
		return
	}
	if qf.Result == nil {
		fmt.Printf("%-32s %s\n", qf.File.Name, qf.Status)
		return
	}
	refundable := "-"
	if qf.Result.RefundableAmount != nil {
		refundable = formatAmount(*qf.Result.RefundableAmount) + " " + qf.Result.Currency
	}
	fmt.Printf("%-32s %-13s %s\n", qf.File.Name, qf.Result.Eligibility, refundable)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

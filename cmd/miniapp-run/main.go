// Command miniapp-run loads a mini app script into the embedded JavaScript
// sandbox, serves its bridge calls and prints the message transcript.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/R3E-Network/miniapp-host/internal/bootstrap"
	"github.com/R3E-Network/miniapp-host/internal/config"
	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/host"
	"github.com/R3E-Network/miniapp-host/internal/hostui"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/sandbox"
	"github.com/R3E-Network/miniapp-host/internal/wallet/wallettest"
)

// Outcomes reported for a run.
const (
	OutcomeClosed   = "closed"
	OutcomeDeadline = "deadline"
	OutcomeError    = "error"
)

// Report is printed to stdout after the run.
type Report struct {
	URL        string            `json:"url"`
	SessionID  string            `json:"sessionId"`
	Outcome    string            `json:"outcome"`
	Error      string            `json:"error,omitempty"`
	FinalState string            `json:"finalState"`
	Button     interface{}       `json:"primaryButton"`
	Transcript []sandbox.Entry   `json:"transcript"`
	Console    []string          `json:"console"`
	Exceptions []string          `json:"exceptions,omitempty"`
	Prompts    []confirm.Details `json:"prompts,omitempty"`
}

type runOptions struct {
	url     string
	script  string
	timeout time.Duration
}

func main() {
	configPath := flag.String("config", os.Getenv("MINIAPP_CONFIG"), "path to a .yaml or .toml config file")
	url := flag.String("url", "https://localhost/", "URL the script is served from; its host is the session domain")
	timeout := flag.Duration("timeout", 30*time.Second, "stop the run after this long")
	approve := flag.Bool("approve", false, "approve every confirmation prompt")
	offline := flag.Bool("offline", false, "answer chain calls from an in-memory provider")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] script.js\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewDefault("miniapp-run").WithError(err).Fatal("load config")
	}
	logger := logging.New("miniapp-run", cfg.Logging.Level, cfg.Logging.Format)
	logger.SetOutput(os.Stderr)

	script, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		logger.WithError(err).Fatal("read script")
	}

	policy := confirm.Deny
	if *approve {
		policy = confirm.Approve
	}
	recorder := confirm.NewRecorder(policy)
	opts := []bootstrap.Option{bootstrap.WithConfirmer(recorder)}
	if *offline {
		opts = append(opts, bootstrap.WithProvider(wallettest.NewProvider(cfg.Chain.SignInChainID)))
	}

	ctx := context.Background()
	rt, err := bootstrap.Build(ctx, cfg, logger, opts...)
	if err != nil {
		logger.WithError(err).Fatal("build runtime")
	}
	defer rt.Close(ctx)

	report := run(ctx, host.New(rt.Auth, rt.Deps, host.WithLogger(logger)), logger,
		runOptions{url: *url, script: string(script), timeout: *timeout})
	report.Prompts = recorder.Prompts()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.WithError(err).Fatal("write report")
	}
	if report.Outcome == OutcomeError {
		os.Exit(1)
	}
}

// run drives one session until the content closes it, the script fails or
// the deadline passes.
func run(ctx context.Context, h *host.Host, logger *logging.Logger, opts runOptions) Report {
	report := Report{URL: opts.url}

	sb, err := sandbox.New(sandbox.WithLogger(logger))
	if err != nil {
		return failed(report, err)
	}
	session, err := h.Open(ctx, opts.url, sb, sb, host.OnClosed(sb.Close))
	if err != nil {
		sb.Close()
		return failed(report, err)
	}
	report.SessionID = session.ID()
	sb.Attach(session.Deliver)
	session.NavigationFinished()

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	runErr := sb.Run(runCtx, opts.script)

	report.FinalState = session.Controller().State().String()
	report.Button = session.Controller().PrimaryButton()
	session.Close()
	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	_ = session.Wait(waitCtx)
	waitCancel()

	switch {
	case runErr == nil:
		report.Outcome = OutcomeClosed
	case errors.Is(runErr, context.DeadlineExceeded):
		report.Outcome = OutcomeDeadline
	default:
		report.Outcome = OutcomeError
		report.Error = runErr.Error()
	}
	if report.FinalState == "" {
		report.FinalState = hostui.StateClosed.String()
	}
	report.Transcript = sb.Transcript()
	report.Console = sb.Logs()
	for _, e := range sb.Errors() {
		report.Exceptions = append(report.Exceptions, e.Error())
	}
	return report
}

func failed(report Report, err error) Report {
	report.Outcome = OutcomeError
	report.Error = err.Error()
	report.FinalState = hostui.StateClosed.String()
	return report
}

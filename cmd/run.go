package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nxtri/cardpilot/internal/await"
	"github.com/nxtri/cardpilot/internal/bridge"
	"github.com/nxtri/cardpilot/internal/browser"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/control"
	"github.com/nxtri/cardpilot/internal/dom"
	cdpdom "github.com/nxtri/cardpilot/internal/dom/cdp"
	"github.com/nxtri/cardpilot/internal/dom/memdom"
	"github.com/nxtri/cardpilot/internal/driver"
	"github.com/nxtri/cardpilot/internal/fill"
	"github.com/nxtri/cardpilot/internal/form"
	"github.com/nxtri/cardpilot/internal/nav"
	"github.com/nxtri/cardpilot/internal/observability"
	"github.com/nxtri/cardpilot/internal/recovery"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Opens the form and serves the fill control endpoint",
		Long: `Run launches a browser, navigates to the configured form URL and starts
the HTTP control surface. A run begins either immediately (--payload) or on a
startFilling command posted to the control endpoint.

With --dry-run the browser is skipped entirely: the fill loop executes against
a local HTML snapshot of the form, with the widget answered in-process.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override config and env.
			if err := viper.BindPFlag("form.url", cmd.Flags().Lookup("url")); err != nil {
				return err
			}
			if err := viper.BindPFlag("control.listen", cmd.Flags().Lookup("listen")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("failed to unmarshal config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			payloadPath, _ := cmd.Flags().GetString("payload")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			snapshotPath, _ := cmd.Flags().GetString("snapshot")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if dryRun {
				return runDry(ctx, &cfg, snapshotPath, payloadPath, logger)
			}
			return runLive(ctx, &cfg, payloadPath, logger)
		},
	}

	runCmd.Flags().String("url", "", "Form URL to open. (Overrides config/env)")
	runCmd.Flags().String("listen", "", "Control endpoint listen address. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().StringP("payload", "p", "", "Path to a fill payload JSON; starts filling immediately.")
	runCmd.Flags().Bool("dry-run", false, "Run against a local HTML snapshot instead of a browser.")
	runCmd.Flags().String("snapshot", "", "HTML snapshot of the form for --dry-run.")

	return runCmd
}

// runLive drives a real browser tab.
func runLive(ctx context.Context, cfg *config.Config, payloadPath string, logger *zap.Logger) error {
	if cfg.Form.URL == "" {
		return fmt.Errorf("no form URL configured (set form.url or pass --url)")
	}

	mgr := browser.NewManager(cfg.Browser, logger)
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Navigate(ctx, cfg.Form.URL); err != nil {
		return err
	}

	doc := cdpdom.NewDocument(mgr.PageContext(), logger)
	defer doc.Close()

	frameSel := browser.FrameSelector(cfg.Form.WidgetFrameSrcHints)
	tr, err := browser.NewPageTransport(mgr.PageContext(), frameSel, logger)
	if err != nil {
		return err
	}

	drv := assembleDriver(doc, tr, cfg, await.RealClock{}, logger)
	return serveAndRun(ctx, cfg, drv, payloadPath, logger)
}

// runDry executes the fill loop against a parsed snapshot, answering the
// widget protocol in-process over a pipe transport.
func runDry(ctx context.Context, cfg *config.Config, snapshotPath, payloadPath string, logger *zap.Logger) error {
	if snapshotPath == "" {
		return fmt.Errorf("--dry-run requires --snapshot")
	}
	raw, err := os.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	location := cfg.Form.ParentOrigins[0] + "/snapshot"
	doc, err := memdom.Parse(string(raw), location)
	if err != nil {
		return fmt.Errorf("parsing snapshot: %w", err)
	}

	clk := await.RealClock{}
	parentEnd, widgetEnd := bridge.NewPipe(cfg.Form.ParentOrigins[0], dryWidgetOrigin(cfg))

	agent := bridge.NewAgent(doc, widgetEnd, bridge.NewOriginPolicy(cfg.Form.ParentOrigins), clk, cfg.Timing, logger)
	widgetEnd.Consume(func(env bridge.Envelope) { agent.Handle(ctx, env) })

	drv := assembleDriver(doc, parentEnd, cfg, clk, logger)
	return serveAndRun(ctx, cfg, drv, payloadPath, logger)
}

// dryWidgetOrigin picks a concrete origin for the in-process widget end.
func dryWidgetOrigin(cfg *config.Config) string {
	if len(cfg.Form.WidgetFrameSrcHints) > 0 {
		return "https://" + cfg.Form.WidgetFrameSrcHints[0]
	}
	return cfg.Form.ParentOrigins[0]
}

// assembleDriver does the dependency wiring shared by live and dry runs.
func assembleDriver(doc dom.Document, tr bridge.Transport, cfg *config.Config, clk await.Clock, logger *zap.Logger) *driver.Driver {
	gate := &bridge.ResolveGate{}
	f := form.New(doc, clk, cfg.Timing, logger)
	filler := fill.New(doc, logger)
	client := bridge.NewClient(f, tr, bridge.NewOriginPolicy(cfg.Form.WidgetOrigins), gate, clk, cfg.Timing, logger)
	controller := nav.New(f, filler, client, gate, clk, cfg.Timing, logger)
	engine := recovery.New(f, filler, client, gate, clk, cfg.Timing, logger)

	return driver.New(driver.Deps{
		Doc:    doc,
		Form:   f,
		Filler: filler,
		Client: client,
		Nav:    controller,
		Engine: engine,
		Gate:   gate,
		Clock:  clk,
		Timing: cfg.Timing,
		Log:    logger,
	})
}

// serveAndRun starts the control surface and, when a payload was given, an
// immediate run. With a payload the process exits when that run finishes;
// without one it serves until a signal arrives.
func serveAndRun(ctx context.Context, cfg *config.Config, drv *driver.Driver, payloadPath string, logger *zap.Logger) error {
	srv := control.New(cfg.Control, drv, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return srv.Serve(gCtx) })

	if payloadPath != "" {
		raw, err := os.ReadFile(payloadPath)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("reading payload: %w", err)
		}
		p, err := driver.ParsePayload(raw)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("parsing payload: %w", err)
		}
		if err := drv.Start(gCtx, p); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("starting run: %w", err)
		}
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				drv.Stop()
				<-drv.Done()
			case <-drv.Done():
			}
			cancel()
			return nil
		})
	} else {
		logger.Info("Waiting for startFilling commands", zap.String("addr", cfg.Control.Listen))
	}

	err := g.Wait()

	switch outcome := drv.Outcome(); outcome {
	case driver.OutcomeSubmitted:
		logger.Info("Form submitted")
		fmt.Println("Form submitted.")
	case driver.OutcomeStalled:
		logger.Warn("Run stalled out")
		return fmt.Errorf("run stalled: the form stopped making progress")
	case driver.OutcomeFailed:
		logger.Error("Run failed")
		return fmt.Errorf("run failed: the page became unusable")
	case driver.OutcomeStopped, driver.OutcomeNone:
		// Stopped by signal or never started; nothing more to say.
	}

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"rugguard/internal/cmdlog"
	"rugguard/internal/config"
	"rugguard/internal/logging"
	"rugguard/internal/metrics"
	"rugguard/internal/profile"
	"rugguard/internal/theme"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "rugguard",
		Usage:   "reply to \"riddle me this\" with a trust score for the account being replied to",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to YAML config",
				Value:   "./rugguard.yaml",
				EnvVars: []string{"RUGGUARD_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files loaded before the config",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "init",
			Usage:  "write a default config file",
			Action: runInit,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
			},
		},
		{
			Name:   "run",
			Usage:  "poll for triggers and reply with analyses",
			Action: runPoll,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "serve", Usage: "also start the HTTP server"},
			},
		},
		{
			Name:   "serve",
			Usage:  "start the HTTP server for manual and webhook analyses",
			Action: runServe,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "addr", Usage: "listen address, overrides server.addr"},
				&cli.BoolFlag{Name: "poll", Usage: "also run the trigger poller"},
			},
		},
		{
			Name:      "analyze",
			Usage:     "score one account and print the reply",
			ArgsUsage: "<username>",
			Action:    runAnalyze,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "json", Usage: "print the full report as JSON"},
				&cli.StringFlag{Name: "reply-to", Usage: "post the reply under this post id"},
			},
		},
		{
			Name:   "trustlist",
			Usage:  "refresh and print the trust list",
			Action: runTrustList,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "count", Usage: "print only the summary"},
			},
		},
		{
			Name:   "whoami",
			Usage:  "verify the posting credentials",
			Action: runWhoami,
		},
	}
	return app
}

// warmTrustList loads the trust list in the background so /health and the first
// analysis see it.
func warmTrustList(ctx context.Context, c *components) {
	go func() {
		if err := c.list.Refresh(ctx); err != nil {
			logging.Warn("trust_list_warmup_failed", map[string]any{"error": err.Error()})
		}
	}()
}

func signalContext(cctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
}

func runInit(cctx *cli.Context) error {
	path := cctx.String("config")
	if _, err := os.Stat(path); err == nil && !cctx.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	abs, _ := filepath.Abs(path)
	theme.PrintBanner(cctx.App.Writer, versioninfo.Short())
	fmt.Fprintln(cctx.App.Writer, "Config written to:", abs)
	return nil
}

func runPoll(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	return cmdlog.Run("run", func() error {
		ctx, stop := signalContext(cctx)
		defer stop()

		c, err := build(cfg)
		if err != nil {
			return err
		}
		s, err := c.scanner()
		if err != nil {
			return err
		}
		p, err := c.poller(s)
		if err != nil {
			return err
		}
		theme.PrintBanner(cctx.App.Writer, versioninfo.Short())
		warmTrustList(ctx, c)

		if cctx.Bool("serve") {
			srv := c.server(s, versioninfo.Short())
			go func() {
				if err := srv.Start(cfg.Server.Addr); err != nil {
					logging.Error("http_server_error", map[string]any{"error": err.Error()})
				}
			}()
			defer shutdown(srv.Shutdown)
		} else {
			metrics.StartServer(cfg.Metrics.Addr)
		}

		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

func runServe(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	if addr := cctx.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	return cmdlog.Run("serve", func() error {
		ctx, stop := signalContext(cctx)
		defer stop()

		c, err := build(cfg)
		if err != nil {
			return err
		}
		theme.PrintBanner(cctx.App.Writer, versioninfo.Short())
		warmTrustList(ctx, c)

		if cctx.Bool("poll") {
			s, err := c.scanner()
			if err != nil {
				return err
			}
			p, err := c.poller(s)
			if err != nil {
				return err
			}
			go runPoller(ctx, p)
			return serveUntilDone(ctx, c.server(s, versioninfo.Short()), cfg.Server.Addr)
		}
		return serveUntilDone(ctx, c.server(nil, versioninfo.Short()), cfg.Server.Addr)
	})
}

type pollRunner interface {
	Run(ctx context.Context) error
}

// runPoller runs the poll loop until ctx ends, logging anything but cancellation.
func runPoller(ctx context.Context, p pollRunner) {
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("poll_loop_error", map[string]any{"error": err.Error()})
	}
}

type startShutdowner interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

func serveUntilDone(ctx context.Context, srv startShutdowner, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(addr) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown(srv.Shutdown)
		return nil
	}
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logging.Warn("http_server_shutdown", map[string]any{"error": err.Error()})
	}
}

func runAnalyze(cctx *cli.Context) error {
	name := cctx.Args().First()
	if name == "" {
		return errors.New("need to provide a username as an argument")
	}
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	return cmdlog.Run("analyze", func() error {
		ctx, stop := signalContext(cctx)
		defer stop()

		c, err := build(cfg)
		if err != nil {
			return err
		}
		report, err := c.analyzer.Analyze(ctx, profile.ByUsername(name))
		if err != nil {
			return err
		}
		text, err := c.formatter.Format(report)
		if err != nil {
			return err
		}
		out := cctx.App.Writer
		if cctx.Bool("json") {
			b, err := json.MarshalIndent(struct {
				Report any    `json:"report"`
				Text   string `json:"analysis_text"`
			}{report, text}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
		} else {
			fmt.Fprintln(out, text)
		}

		if to := cctx.String("reply-to"); to != "" {
			id, err := c.publisher(true).Publish(ctx, to, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Posted reply:", id)
		}
		return nil
	})
}

func runTrustList(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	return cmdlog.Run("trustlist", func() error {
		ctx, stop := signalContext(cctx)
		defer stop()

		c, err := build(cfg)
		if err != nil {
			return err
		}
		if err := c.list.Refresh(ctx); err != nil {
			logging.Warn("trust_list_unavailable", map[string]any{"error": err.Error()})
		}
		info := c.list.Info(ctx)
		out := cctx.App.Writer
		fmt.Fprintf(out, "source=%s size=%d url=%s\n", info.Source, info.Size, info.URL)
		if info.LastError != "" {
			fmt.Fprintln(out, "last error:", info.LastError)
		}
		if cctx.Bool("count") {
			return nil
		}
		for _, m := range c.list.Members(ctx) {
			fmt.Fprintf(out, "@%s\n", m)
		}
		return nil
	})
}

func runWhoami(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	return cmdlog.Run("whoami", func() error {
		ctx, stop := signalContext(cctx)
		defer stop()

		c, err := build(cfg)
		if err != nil {
			return err
		}
		me, err := c.user.GetMe(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "@%s (%s)\n", me.Username, me.ID)
		return nil
	})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnjsoftone/jnj-android/capture"
	"github.com/jnjsoftone/jnj-android/compositor"
	"github.com/jnjsoftone/jnj-android/config"
	"github.com/jnjsoftone/jnj-android/debug"
	"github.com/jnjsoftone/jnj-android/device"
	"github.com/jnjsoftone/jnj-android/game"
	"github.com/jnjsoftone/jnj-android/screen"
	"github.com/jnjsoftone/jnj-android/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// services is the fully wired runtime stack shared by all commands.
type services struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *config.Store
	grabber  *capture.Grabber
	device   *device.Controller
	weston   *compositor.Weston
	session  *compositor.Session
	screen   *screen.Service
	launcher *game.Launcher
	orch     *game.Orchestrator
}

func buildServices(cfg *config.Config) (*services, error) {
	logger := NewLogger(LogLevel(cfg.Debug))

	store, err := config.NewStore(cfg.UIConfigDir, logger)
	if err != nil {
		return nil, fmt.Errorf("load ui documents: %w", err)
	}

	display := store.Snapshot().Desktop.Display
	grabber := capture.NewGrabber(display)
	runner := device.ExecRunner{}

	ctrl := device.NewController(cfg.Device.ADBPath, cfg.Device.ID, cfg.ShellTimeout(), runner, logger)
	weston := compositor.NewWeston(
		cfg.Compositor.ProcessName,
		cfg.Compositor.WindowTitle,
		cfg.Compositor.StartCommand,
		display,
		time.Duration(cfg.Compositor.StartTimeoutSec)*time.Second,
		runner, grabber, logger,
	)
	session := compositor.NewSession(
		cfg.Session.ProcessPattern,
		cfg.Session.StartScript,
		time.Duration(cfg.Session.StartTimeoutSec)*time.Second,
		time.Duration(cfg.Session.StartGraceSec)*time.Second,
		runner, logger,
	)

	var recorder *capture.Recorder
	if cfg.Recorder.Enabled {
		recorder = capture.NewRecorder(cfg.Recorder.Dir, cfg.Recorder.Keep, logger)
	}

	svc := screen.NewService(grabber, ctrl, session, weston, store, cfg.Compositor.WindowTitle, recorder, logger)
	launcher := game.NewLauncher(ctrl, cfg.Game, logger)
	orch := game.NewOrchestrator(weston, session, svc, launcher, ctrl, store, cfg.Ready, logger)

	return &services{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		grabber:  grabber,
		device:   ctrl,
		weston:   weston,
		session:  session,
		screen:   svc,
		launcher: launcher,
		orch:     orch,
	}, nil
}

func newRootCommand() *cobra.Command {
	var configPath string
	var debugFlag bool
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "jnj-android",
		Short:         "Waydroid game readiness service",
		Long:          "Classifies the compositor screen from pixel samples and drives the container from any state to a confirmed game main screen.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if debugFlag {
				loaded.Debug = true
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(&cfg),
		newReadyCommand(&cfg),
		newClassifyCommand(&cfg),
		newUnlockCommand(&cfg),
		newStatusCommand(&cfg),
		newReloadCommand(&cfg),
		newGameCommand(&cfg),
	)
	return root
}

func newServeCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildServices(*cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if s.cfg.Debug {
				debug.StartGoroutineLogger(10*time.Second, s.logger)
				debug.StartMemLogger(10*time.Second, s.logger)
			}
			go func() {
				if err := s.store.Watch(ctx); err != nil {
					s.logger.Warn("ui document watch unavailable", "error", err)
				}
			}()
			if err := s.device.Connect(ctx); err != nil {
				s.logger.Warn("adb connect failed, continuing", "error", err)
			}

			srv := server.New(s.screen, s.launcher, s.orch, s.weston, s.session, s.device, s.store, s.cfg.ReadyBudget(), s.logger)
			return srv.Run(ctx, s.cfg.Server.Addr)
		},
	}
}

func newReadyCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Drive the container to a confirmed game main screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildServices(*cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.cfg.ReadyBudget())
			defer cancel()
			if err := s.device.Connect(ctx); err != nil {
				return err
			}
			res, err := s.orch.EnsureReady(ctx)
			if err != nil {
				return err
			}
			printJSON(res)
			if res.Outcome == game.OutcomeFailure {
				return fmt.Errorf("readiness failed: %s", res.Reason)
			}
			return nil
		},
	}
}

func newClassifyCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Classify the current compositor screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildServices(*cfg)
			if err != nil {
				return err
			}
			state, err := s.screen.State(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(state.String())
			return nil
		},
	}
}

func newUnlockCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock a locked screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildServices(*cfg)
			if err != nil {
				return err
			}
			return s.screen.Unlock(cmd.Context())
		},
	}
}

func newReloadCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the UI detection documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildServices(*cfg)
			if err != nil {
				return err
			}
			if err := s.store.Reload(); err != nil {
				return err
			}
			fmt.Println("ui documents reloaded")
			return nil
		},
	}
}

func newStatusCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report compositor, session, device, and app status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildServices(*cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			printJSON(map[string]bool{
				"compositor": s.weston.Ready(ctx),
				"session":    s.session.Ready(ctx),
				"device":     s.device.IsConnected(ctx),
				"app":        s.launcher.Running(ctx),
			})
			return nil
		},
	}
}

func newGameCommand(cfg **config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Control the target app",
	}
	run := func(action func(s *services, ctx context.Context) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, args []string) error {
			s, err := buildServices(*cfg)
			if err != nil {
				return err
			}
			if err := s.device.Connect(c.Context()); err != nil {
				return err
			}
			return action(s, c.Context())
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start the app and wait for focus",
			RunE: run(func(s *services, ctx context.Context) error {
				return s.launcher.Start(ctx)
			}),
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Force-stop the app",
			RunE: run(func(s *services, ctx context.Context) error {
				return s.launcher.Stop(ctx)
			}),
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Force-stop and relaunch the app",
			RunE: run(func(s *services, ctx context.Context) error {
				return s.launcher.Restart(ctx)
			}),
		},
	)
	return cmd
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

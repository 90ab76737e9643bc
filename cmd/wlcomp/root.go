package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"deedles.dev/wlcomp/backend/offscreen"
	"deedles.dev/wlcomp/config"
	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/internal/logger"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/render"
	"deedles.dev/wlcomp/server"
)

var (
	// Version is set during build.
	Version = "0.1.0-dev"

	configPath string
	socketName string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "wlcomp",
		Short: "wlcomp - a Wayland compositor",
		Long: `wlcomp is a Wayland compositor. It accepts clients on a Wayland
socket and composites their surfaces onto its outputs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			return config.Init()
		},
		RunE: runServer,
	}
)

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search the standard locations)")
	rootCmd.Flags().StringVarP(&socketName, "socket", "s", "", "socket name (overrides config)")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if level != "" {
		logger.SetLevel(level)
	}

	socket := cfg.Server.Socket
	if socketName != "" {
		socket = socketName
	}

	srv, err := server.Listen(socket, func(*output.Output) output.Painter {
		return render.NewSoftware()
	})
	if err != nil {
		return fmt.Errorf("listen on %q: %w", socket, err)
	}
	logger.Info("listening", "addr", srv.Addr())

	for _, oc := range cfg.Outputs {
		o, err := newOutput(cfg.Backend, oc)
		if err != nil {
			return err
		}
		srv.Layout().Add(o)
		logger.Info("added output", "output", o, "mode", oc.Mode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return srv.Run(ctx) })
	eg.Go(func() error { return srv.Layout().Serve(ctx) })

	err = eg.Wait()
	if (err != nil) && (ctx.Err() == nil) {
		return err
	}
	logger.Info("shut down")
	return nil
}

func newOutput(bc config.BackendConfig, oc config.OutputConfig) (*output.Output, error) {
	mode, err := config.ParseMode(oc.Mode, bc.Refresh)
	if err != nil {
		return nil, fmt.Errorf("output %v: %w", oc.Name, err)
	}
	transform, err := geom.ParseTransform(oc.Transform)
	if err != nil {
		return nil, fmt.Errorf("output %v: %w", oc.Name, err)
	}

	opts := []offscreen.Option{
		offscreen.WithModes(mode),
		offscreen.WithImages(bc.Images),
		offscreen.WithGammaSize(bc.GammaSize),
	}
	if bc.CursorPlane {
		opts = append(opts, offscreen.WithCursorPlane())
	}

	o := output.New(offscreen.New(oc.Name, opts...))
	o.SetPosition(image.Pt(oc.X, oc.Y))
	o.SetOversample(oc.Oversample)
	if oc.Scale > 0 {
		err = o.SetScale(oc.Scale)
		if err != nil {
			return nil, fmt.Errorf("output %v: %w", oc.Name, err)
		}
	}
	err = o.SetTransform(transform)
	if err != nil {
		return nil, fmt.Errorf("output %v: %w", oc.Name, err)
	}
	return o, nil
}

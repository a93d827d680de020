package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/internal/server"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Port  int
	Watch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the metric API server",
		Long: `Start an HTTP server exposing the catalog, calculations, lineage and
dependencies as a JSON API under /api.

With --watch the catalog, dictionary and sample files are reloaded when they
change and subscribers of /api/events are notified.`,
		Example: `  # Serve on the default port
  leapmetrics serve

  # Custom port without file watching
  leapmetrics serve --port 9000 --watch=false`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port to serve on (default: 8780)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "Reload when catalog files change")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	srvCfg := cfg.GetServerConfig()

	port := srvCfg.Port
	if opts.Port != 0 {
		port = opts.Port
	}
	watch := srvCfg.Watch
	if cmd.Flags().Changed("watch") {
		watch = opts.Watch
	}

	srv := server.NewServer(server.Config{
		Engine:         cmdCtx.Engine,
		Port:           port,
		Watch:          watch,
		WatchDirs:      []string{cfg.CatalogDir, cfg.SamplesDir, cfg.DictionaryPath},
		RequestTimeout: srvCfg.RequestTimeout,
		AllowedOrigins: srvCfg.AllowedOrigins,
		Logger:         cmdCtx.Logger,
	})

	cmdCtx.Renderer.Println(fmt.Sprintf("Serving metric API on http://localhost:%d/api", port))
	cmdCtx.Renderer.Println("Press Ctrl+C to stop")

	return srv.Serve(cmd.Context())
}

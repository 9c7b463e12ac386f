package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentcore/internal/config"
	"github.com/opencode-ai/agentcore/internal/logging"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/server"
	"github.com/opencode-ai/agentcore/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start opencode as a server that exposes sessions over an HTTP API.

Permission prompts are published on the event stream and answered with
POST /session/{id}/permissions/{permissionID}. Configuration files are
watched; permission rule changes apply without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 4096)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config, 127.0.0.1)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, workDir, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	approver := permission.NewBusApprover(rt.bus)
	rt.perms.SetApprover(approver)

	serverConfig := server.DefaultConfig()
	serverConfig.Directory = workDir
	if rt.config.Server != nil {
		serverConfig.Port = rt.config.Server.Port
		serverConfig.Hostname = rt.config.Server.Hostname
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Hostname = serveHostname
	}

	srv := server.New(serverConfig, rt.config, rt.sessions, rt.tools, approver)

	if err := config.Watch(ctx, workDir, func(cfg *types.Config) {
		rt.perms.SetConfigRules(cfg.Permission)
		srv.SetConfig(cfg)
	}); err != nil {
		logging.Warn().Err(err).Msg("config watcher disabled")
	}

	logging.Info().
		Str("version", Version).
		Str("directory", workDir).
		Str("addr", srv.Addr()).
		Msg("starting server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown")
		return err
	}
	logging.Info().Msg("server stopped")
	return nil
}

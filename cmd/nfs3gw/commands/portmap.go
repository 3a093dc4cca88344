package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/portmap"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/pkg/adapter/oncrpc"
	"github.com/marmos91/nfs3gw/pkg/server"
	"github.com/spf13/cobra"
)

var (
	portmapAddress string
	portmapPort    int
)

var portmapCmd = &cobra.Command{
	Use:   "portmap",
	Short: "Run a standalone port mapper",
	Long: `Run a port mapper (program 100000, version 2) over TCP and UDP.

Use it on hosts without rpcbind. SET and UNSET are only accepted from
loopback clients.

Examples:
  # Serve on the well-known port (needs privileges)
  nfs3gw portmap

  # Serve on an unprivileged port for testing
  nfs3gw portmap --port 1111`,
	RunE: runPortmap,
}

func init() {
	portmapCmd.Flags().StringVar(&portmapAddress, "address", "", "address to bind (default: all interfaces)")
	portmapCmd.Flags().IntVar(&portmapPort, "port", portmap.DefaultPort, "port to bind")
}

func runPortmap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pmCfg := cfg.PortmapServerConfig()
	pmCfg.Address = portmapAddress
	pmCfg.Port = portmapPort

	registry := portmap.NewRegistry()
	mux := rpc.NewMux()
	mux.Handle(portmap.NewHandler(registry))

	srv, err := oncrpc.New(pmCfg, mux, nil)
	if err != nil {
		return err
	}

	s := server.New(cfg.Server.ShutdownTimeout)
	if err := s.AddAdapter(srv); err != nil {
		return err
	}
	s.OnStart(server.Hook{
		Name: "portmap self-registration",
		Start: func(context.Context) error {
			registry.RegisterSelf(srv.Port())
			logger.Info("Port mapper ready on port %d", srv.Port())
			return nil
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("port mapper: %w", err)
	}
	return nil
}

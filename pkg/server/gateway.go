package server

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/mount"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfs3gw/internal/protocol/portmap"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc/callcache"
	"github.com/marmos91/nfs3gw/pkg/adapter/oncrpc"
	"github.com/marmos91/nfs3gw/pkg/config"
	"github.com/marmos91/nfs3gw/pkg/export"
	"github.com/marmos91/nfs3gw/pkg/gc"
	"github.com/marmos91/nfs3gw/pkg/identity"
	"github.com/marmos91/nfs3gw/pkg/store"
	"github.com/marmos91/nfs3gw/pkg/writemgr"
)

// Gateway is an assembled NFS gateway: the backing store, the NFS and MOUNT
// programs sharing one port, and optionally an embedded port mapper.
type Gateway struct {
	cfg *config.Config

	fs        *store.FileSystem
	writes    *writemgr.Manager
	exports   *export.Table
	mounts    *mount.Registry
	collector *gc.Collector

	nfs      *oncrpc.Server
	portmap  *oncrpc.Server
	mappings *portmap.Registry

	server *Server
}

// NewGateway builds every component described by cfg. m supplies the
// metrics collectors; a zero MetricsResult disables them. The returned
// gateway owns the store and must be closed.
func NewGateway(ctx context.Context, cfg *config.Config, m *config.MetricsResult) (*Gateway, error) {
	if m == nil {
		m = &config.MetricsResult{}
	}

	fs, err := config.CreateFileSystem(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exports, err := export.New(cfg.Exports)
	if err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("invalid exports: %w", err)
	}

	meta, content := fs.Backends()
	collector, err := gc.New(meta, content, cfg.GC)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}

	g := &Gateway{
		cfg:       cfg,
		fs:        fs,
		writes:    writemgr.New(fs, cfg.WriteManager, m.Writes),
		exports:   exports,
		mounts:    mount.NewRegistry(),
		collector: collector,
		server:    New(cfg.Server.ShutdownTimeout),
	}

	h := handlers.New(fs, g.writes, identity.New(cfg.Identity), cfg.HandlerConfig())
	cache := callcache.New(cfg.NFS.CallCacheSize, m.CallCache)

	mux := rpc.NewMux()
	mux.Handle(nfs.NewDispatcher(h, exports, cache, m.RPC, cfg.DispatcherConfig()))
	if cfg.Mount.Enabled {
		mux.Handle(mount.New(h.RootHandle(), exports, g.mounts, m.RPC, cfg.MountHandlerConfig()))
	}

	g.nfs, err = oncrpc.New(cfg.NFSServerConfig(), mux, m.RPC)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	if err := g.server.AddAdapter(g.nfs); err != nil {
		_ = fs.Close()
		return nil, err
	}

	if cfg.Portmap.Embedded {
		if err := g.addEmbeddedPortmap(m); err != nil {
			_ = fs.Close()
			return nil, err
		}
	}

	if cfg.Portmap.Register {
		g.server.OnStart(g.registrationHook())
	}

	g.server.OnStart(Hook{
		Name: "garbage collector",
		Start: func(ctx context.Context) error {
			collector.Start(ctx)
			return nil
		},
		Stop: collector.Stop,
	})

	logger.Info("Gateway assembled: mount=%t embedded_portmap=%t register=%t exports=%d",
		cfg.Mount.Enabled, cfg.Portmap.Embedded, cfg.Portmap.Register, len(cfg.Exports))
	return g, nil
}

func (g *Gateway) addEmbeddedPortmap(m *config.MetricsResult) error {
	g.mappings = portmap.NewRegistry()

	mux := rpc.NewMux()
	mux.Handle(portmap.NewHandler(g.mappings))

	srv, err := oncrpc.New(g.cfg.PortmapServerConfig(), mux, m.RPC)
	if err != nil {
		return err
	}
	if err := g.server.AddAdapter(srv); err != nil {
		return err
	}
	g.portmap = srv

	g.server.OnStart(Hook{
		Name: "portmap self-registration",
		Start: func(context.Context) error {
			g.mappings.RegisterSelf(srv.Port())
			return nil
		},
	})
	return nil
}

// registrationHook registers every program of the NFS port with the port
// mapper, once per transport, and unregisters them at shutdown.
func (g *Gateway) registrationHook() Hook {
	var regs []portmap.Registration
	var client *portmap.Client

	return Hook{
		Name: "portmap registration",
		Start: func(ctx context.Context) error {
			host, port := g.cfg.Portmap.Host, g.cfg.Portmap.Port
			if g.portmap != nil {
				host, port = "127.0.0.1", g.portmap.Port()
			}
			client = portmap.NewClient(g.cfg.Portmap.Transport, host, port, g.cfg.Portmap.RegisterTimeout, nil)

			networks := []string{"tcp"}
			if g.nfs.UDPEnabled() {
				networks = append(networks, "udp")
			}
			for _, prog := range g.nfs.Programs() {
				for _, network := range networks {
					reg := portmap.Registration{Program: prog, Network: network, Port: g.nfs.Port()}
					if err := client.Register(ctx, reg); err != nil {
						return err
					}
					regs = append(regs, reg)
				}
			}
			return nil
		},
		Stop: func(ctx context.Context) error {
			var first error
			for i := len(regs) - 1; i >= 0; i-- {
				if err := client.Unregister(ctx, regs[i]); err != nil && first == nil {
					first = err
				}
			}
			return first
		},
	}
}

// Run serves until ctx is cancelled. The write manager's background flush
// runs for the same span and every buffered write is flushed before Run
// returns.
func (g *Gateway) Run(ctx context.Context) error {
	g.writes.StartAsyncDataService(ctx)
	defer g.writes.ShutdownAsyncDataService()

	return g.server.Serve(ctx)
}

// CollectGarbage runs one orphaned content sweep now.
func (g *Gateway) CollectGarbage(ctx context.Context) (*gc.Stats, error) {
	return g.collector.Run(ctx)
}

// Ready is closed once the gateway is listening and registered.
func (g *Gateway) Ready() <-chan struct{} {
	return g.server.Ready()
}

// ReplaceExports swaps the export rules. On error the current rules stay.
func (g *Gateway) ReplaceExports(rules []export.Rule) error {
	return g.exports.Replace(rules)
}

// Exports returns the active export table.
func (g *Gateway) Exports() *export.Table {
	return g.exports
}

// Mounts returns the MOUNT list.
func (g *Gateway) Mounts() *mount.Registry {
	return g.mounts
}

// NFSAddr is the bound NFS address, nil before Ready.
func (g *Gateway) NFSAddr() net.Addr {
	return g.nfs.Addr()
}

// PortmapAddr is the bound address of the embedded port mapper, or nil.
func (g *Gateway) PortmapAddr() net.Addr {
	if g.portmap == nil {
		return nil
	}
	return g.portmap.Addr()
}

// Close releases the backing store. Call it after Run returns.
func (g *Gateway) Close() error {
	return g.fs.Close()
}

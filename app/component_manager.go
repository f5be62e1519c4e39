package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/app/protocol/flowcontext"
	"github.com/ringchain/ringd/app/syncmanager"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/domain/verifier"
	"github.com/ringchain/ringd/infrastructure/config"
	"github.com/ringchain/ringd/infrastructure/db/database"
	"github.com/ringchain/ringd/infrastructure/network/grpcpeer"
	"github.com/ringchain/ringd/infrastructure/network/peerpool"
	"github.com/ringchain/ringd/util/panics"
	"golang.org/x/sync/errgroup"
)

// ComponentManager is a wrapper for all the ringd services
type ComponentManager struct {
	cfg           *config.Config
	flowContext   *flowcontext.FlowContext
	server        *grpcpeer.Server
	peerPool      *peerpool.PeerPool
	syncManager   *syncmanager.SyncManager
	metricsServer *http.Server

	cancel context.CancelFunc
	group  *errgroup.Group

	started, shutdown int32
}

// Start launches all the ringd services.
func (a *ComponentManager) Start() {
	// Already started?
	if atomic.AddInt32(&a.started, 1) != 1 {
		return
	}

	log.Trace("Starting ringd")

	if a.server != nil {
		err := a.server.Start()
		if err != nil {
			panics.Exit(log, fmt.Sprintf("Error starting the p2p server: %+v", err))
		}
	}

	a.peerPool.Start()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.group, ctx = errgroup.WithContext(ctx)
	a.group.Go(func() error {
		return a.syncManager.Run(ctx)
	})

	if a.metricsServer != nil {
		listener, err := net.Listen("tcp", a.metricsServer.Addr)
		if err != nil {
			panics.Exit(log, fmt.Sprintf("Error starting the metrics server: %+v", err))
		}
		log.Infof("Metrics server listening on %s", listener.Addr())
		a.group.Go(func() error {
			err := a.metricsServer.Serve(listener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errors.Wrap(err, "metrics server")
		})
	}
}

// Stop gracefully shuts down all the ringd services.
func (a *ComponentManager) Stop() {
	// Make sure this only happens once.
	if atomic.AddInt32(&a.shutdown, 1) != 1 {
		log.Infof("Ringd is already in the process of shutting down")
		return
	}

	log.Warnf("Ringd shutting down")

	if a.cancel != nil {
		a.cancel()
		if a.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.metricsServer.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				log.Errorf("Error stopping the metrics server: %+v", err)
			}
		}
		err := a.group.Wait()
		if err != nil {
			log.Errorf("Error stopping the sync: %+v", err)
		}
		a.peerPool.Stop()
	}

	if a.server != nil {
		err := a.server.Stop()
		if err != nil {
			log.Errorf("Error stopping the p2p server: %+v", err)
		}
	}
}

// NewComponentManager returns a new ComponentManager instance.
// Use Start() to begin all services within this ComponentManager
func NewComponentManager(cfg *config.Config, db database.Database) (*ComponentManager, error) {
	store := chainstore.New(db)
	blockVerifier := verifier.New(verifier.FixedDifficulty(cfg.Difficulty()))
	err := initGenesis(store, cfg.NetParams(), blockVerifier)
	if err != nil {
		return nil, err
	}
	flowContext := flowcontext.New(store, pruning.NotPruned)

	var server *grpcpeer.Server
	if !cfg.DisableListen {
		server = grpcpeer.NewServer(flowContext, cfg.Listeners)
	}

	peerPool := peerpool.New(&peerpool.Config{
		Addresses:   cfg.ConnectPeers,
		BanDuration: cfg.BanDuration,
		InfoTimeout: cfg.PeerInfoTimeout,
		Connect: func(address string) (peerpool.PeerClient, error) {
			client, err := grpcpeer.Connect(address, cfg.Dial)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		RefreshTicker: ticker.New(cfg.PeerRefresh),
	})
	if len(cfg.ConnectPeers) == 0 {
		log.Warnf("No peers to sync from, use --connect to add some")
	}

	syncManager := syncmanager.New(flowContext, peerPool, blockVerifier, cfg.SyncManagerConfig())

	return &ComponentManager{
		cfg:           cfg,
		flowContext:   flowContext,
		server:        server,
		peerPool:      peerPool,
		syncManager:   syncManager,
		metricsServer: setupMetricsServer(cfg),
	}, nil
}

func setupMetricsServer(cfg *config.Config) *http.Server {
	if cfg.MetricsListen == "" {
		return nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(blockdownloader.Collectors()...)
	registry.MustRegister(syncmanager.Collectors()...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// FlowContext returns the FlowContext of this ComponentManager
func (a *ComponentManager) FlowContext() *flowcontext.FlowContext {
	return a.flowContext
}

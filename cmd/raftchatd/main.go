// Command raftchatd runs one node of the replicated chat cluster: the
// RAFT consensus core, the chat state machine, and the public HTTP
// front, all bound to the addresses named in its config file. Grounded
// on cmd/main.go's flag-based bootstrap, generalized from a single
// -peers flag to a YAML config file with flag overrides.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/A00N/distr-systems-d-chat/internal/config"
	"github.com/A00N/distr-systems-d-chat/internal/httpapi"
	"github.com/A00N/distr-systems-d-chat/internal/raft"
	"github.com/A00N/distr-systems-d-chat/internal/statemachine"
	"github.com/A00N/distr-systems-d-chat/internal/storage"
	"github.com/A00N/distr-systems-d-chat/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the node's YAML config file")
		idOverride = flag.String("id", "", "override node.id from the config file")
		httpOverride = flag.String("http", "", "override node.httpAddress from the config file")
		raftOverride = flag.String("raft", "", "override node.raftAddress from the config file")
	)
	flag.Parse()

	if *configPath == "" {
		log.Fatal("-config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *idOverride != "" {
		cfg.Node.ID = *idOverride
	}
	if *httpOverride != "" {
		cfg.Node.HTTPAddress = *httpOverride
	}
	if *raftOverride != "" {
		cfg.Node.RaftAddress = *raftOverride
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config after overrides: %v", err)
	}

	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", cfg.Node.ID), log.LstdFlags)

	if err := run(cfg, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}

	snapshotPath := ""
	if cfg.Node.DataDir != "" {
		if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		snapshotPath = filepath.Join(cfg.Node.DataDir, "messages.jsonl")
	}

	sm := statemachine.New(cfg.Node.ID)
	if snapshotPath != "" {
		sm = sm.WithSnapshotFile(snapshotPath)
	}

	peers := make([]raft.Peer, 0, len(cfg.Cluster.Peers))
	for _, p := range cfg.Cluster.Peers {
		peers = append(peers, raft.Peer{ID: p.ID, Address: p.RaftAddress})
	}

	timing := raft.Timing{
		ElectionTimeoutMin: cfg.ElectionTimeoutMin(),
		ElectionTimeoutMax: cfg.ElectionTimeoutMax(),
		HeartbeatInterval:  cfg.HeartbeatInterval(),
		RPCTimeout:         cfg.HeartbeatInterval() * 4,
	}

	sender := transport.NewHTTPClient(timing.RPCTimeout)

	node, err := raft.NewNode(raft.Config{
		ID:     cfg.Node.ID,
		Peers:  peers,
		Timing: timing,
		SM:     sm,
		Store:  store,
		Sender: sender,
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	mux := http.NewServeMux()
	transport.NewHandler(node).RegisterHandlers(mux)
	httpapi.New(node, sm, cfg.PeerHTTPAddresses()).RegisterHandlers(mux)

	raftServer := &http.Server{Addr: cfg.Node.RaftAddress, Handler: mux}
	httpServer := raftServer
	if cfg.Node.RaftAddress != cfg.Node.HTTPAddress {
		httpServer = &http.Server{Addr: cfg.Node.HTTPAddress, Handler: mux}
	}

	node.Start()
	defer node.Shutdown()

	serveErrCh := make(chan error, 2)
	go func() {
		logger.Printf("raft transport listening on %s", cfg.Node.RaftAddress)
		if err := raftServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("raft listener: %w", err)
		}
	}()
	if httpServer != raftServer {
		go func() {
			logger.Printf("http front listening on %s", cfg.Node.HTTPAddress)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrCh <- fmt.Errorf("http listener: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		return err
	case sig := <-sigCh:
		logger.Printf("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = raftServer.Shutdown(shutdownCtx)
	if httpServer != raftServer {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Persistence.Driver {
	case "", "memory":
		return nil, nil
	case "file":
		return storage.OpenFileStore(cfg.Persistence.Path)
	case "bolt":
		return storage.OpenBoltStore(cfg.Persistence.Path)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Persistence.Driver)
	}
}

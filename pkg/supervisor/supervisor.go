package supervisor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/shikharish/pgmoneta/pkg/catalog"
	"github.com/shikharish/pgmoneta/pkg/config"
	"github.com/shikharish/pgmoneta/pkg/log"
	"github.com/shikharish/pgmoneta/pkg/metrics"
	"github.com/shikharish/pgmoneta/pkg/proctitle"
	"github.com/shikharish/pgmoneta/pkg/registry"
	"github.com/shikharish/pgmoneta/pkg/remote"
)

// controlSocketName is the well-known name the local control listener
// binds under the configured unix-socket directory.
const controlSocketName = ".s.PGMONETA.5432"

// Supervisor is the Lifecycle Controller: it sequences startup exactly as
// spec.md §4.1 describes, owns every listener group, the scheduler, and
// the worker registry, and reverses the sequence on shutdown.
type Supervisor struct {
	Region   *config.Region
	Catalog  *catalog.Catalog
	Registry *registry.Registry

	Receiver   WalReceiver
	Backuper   Backuper
	Compressor Compressor
	Retainer   Retainer

	controlListener net.Listener
	metricsGroup    *ListenerGroup
	remoteGroup     *ListenerGroup
	metricsServer   *metricsHTTPServer
	remoteService   *remote.Service
	metricsStopCh   chan struct{}
	tlsConfig       *tls.Config

	scheduler  *Scheduler
	dispatcher *Dispatcher

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Supervisor over an already-loaded Region and opened
// Catalog. Receiver, Backuper, Compressor, and Retainer may all be nil in
// tests (or deployments) that never exercise BACKUP, the WAL receivers, or
// the corresponding periodic sweep.
func New(region *config.Region, cat *catalog.Catalog, receiver WalReceiver, backuper Backuper) *Supervisor {
	return &Supervisor{
		Region:   region,
		Catalog:  cat,
		Registry: registry.New(),
		Receiver: receiver,
		Backuper: backuper,
		stopCh:   make(chan struct{}),
	}
}

// WithCompressor attaches the WAL-compression sweep's collaborator.
func (s *Supervisor) WithCompressor(c Compressor) *Supervisor {
	s.Compressor = c
	return s
}

// WithRetainer attaches the retention sweep's collaborator.
func (s *Supervisor) WithRetainer(r Retainer) *Supervisor {
	s.Retainer = r
	return s
}

// Start runs the startup pipeline from spec.md §4.1 steps 5-11 (steps 1-4 —
// flag parsing, config load, logging init, daemonize — are the CLI
// entrypoint's responsibility, since they must run before a Region exists).
func (s *Supervisor) Start(ctx context.Context, tlsMaterial TLSMaterial) error {
	logger := log.WithComponent("supervisor")
	snap := s.Region.Snapshot()

	if err := CreatePidFile(snap.PidFile, os.Getpid()); err != nil {
		return err
	}

	proctitle.Set("main")

	controlPath := filepath.Join(snap.UnixSocketDir, controlSocketName)
	os.Remove(controlPath) // stale socket from an unclean previous shutdown
	ln, err := net.Listen("unix", controlPath)
	if err != nil {
		return fmt.Errorf("binding control socket %s: %w", controlPath, err)
	}
	s.controlListener = ln
	metrics.RegisterComponent("control-listener", true, "")

	tlsConfig, err := ValidateTLS(tlsMaterial)
	if err != nil {
		return err
	}
	s.tlsConfig = tlsConfig

	if snap.MetricsPort > 0 {
		if err := s.bindMetrics(snap.MetricsPort); err != nil {
			return err
		}
	}

	if snap.ManagementPort > 0 {
		if err := s.bindRemote(snap.ManagementPort); err != nil {
			return err
		}
	}

	metrics.ServersConfigured.Set(float64(len(snap.Servers)))

	for i, server := range snap.Servers {
		workerCtx, cancel := context.WithCancel(ctx)
		id := s.Registry.Add(server.Name, i, cancel)
		if s.Receiver != nil {
			go RunReceiver(workerCtx, server, s.Receiver, id)
		}
	}
	metrics.WorkersActive.Set(float64(s.Registry.Len()))

	s.scheduler = NewScheduler(snap.CompressionPolicy != config.CompressionNone,
		s.compressionSweep, s.retentionSweep)
	s.scheduler.Start()

	s.dispatcher = NewDispatcher(s.Region, s.Catalog, s.Backuper, s.RequestStop, s.reload)

	logger.Debug().Str("io_backend", snap.IOBackend).Msg("configured I/O backend (informational only)")
	logger.Info().Int("servers", len(snap.Servers)).Msg("supervisor started")

	NotifyReady(os.Getpid())

	return nil
}

// Run serves the control listener and any bound listener groups until
// RequestStop is called or a terminating signal is received. It blocks.
func (s *Supervisor) Run() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, os.Interrupt, syscall.SIGALRM, syscall.SIGHUP, syscall.SIGABRT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveControl()
	}()

	if s.metricsGroup != nil {
		s.serveMetrics()
	}

	if s.remoteGroup != nil {
		s.serveRemote()
	}

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.reload()
				continue
			case syscall.SIGABRT:
				log.WithComponent("supervisor").Warn().Msg("abort signal received")
				continue
			default:
				s.RequestStop()
			}
		case <-s.stopCh:
		}
		break
	}

	s.wg.Wait()
}

// bindMetrics binds a fresh metrics listener group and HTTP server, used by
// both Start and reload when metrics_port changes.
func (s *Supervisor) bindMetrics(port int) error {
	addrs := metricsAddrs(port)
	group, err := NewListenerGroup("metrics", addrs, nil)
	if err != nil {
		return err
	}
	s.metricsGroup = group
	s.metricsServer = newMetricsHTTPServer()
	metrics.RegisterComponent("metrics-listener", true, "")
	return nil
}

// bindRemote binds a fresh remote-management listener group and gRPC
// service, used by both Start and reload when management_port changes.
func (s *Supervisor) bindRemote(port int) error {
	addrs := metricsAddrs(port)
	group, err := NewListenerGroup("remote-management", addrs, s.tlsConfig)
	if err != nil {
		return err
	}
	s.remoteGroup = group
	s.remoteService = remote.NewService(s)
	metrics.RegisterComponent("remote-management", true, "")
	return nil
}

// serveMetrics spawns the metrics group's Accept loop on a dedicated stop
// channel (rather than the supervisor-wide s.stopCh) so a reload can retire
// this exact group without ListenerGroup's fatal-accept rebind logic
// rebinding it right back onto the port being replaced.
func (s *Supervisor) serveMetrics() {
	stop := make(chan struct{})
	s.metricsStopCh = stop
	group := s.metricsGroup
	server := s.metricsServer

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		group.Serve(stop, server.handle)
	}()
}

// serveRemote spawns one Serve(listener) goroutine per bound address for
// the gRPC server backing the remote-management channel.
func (s *Supervisor) serveRemote() {
	service := s.remoteService
	for _, ln := range s.remoteGroup.Listeners() {
		s.wg.Add(1)
		go func(ln net.Listener) {
			defer s.wg.Done()
			if err := service.GRPCServer().Serve(ln); err != nil {
				log.WithComponent("supervisor").Debug().Err(err).Msg("remote management server stopped")
			}
		}(ln)
	}
}

func (s *Supervisor) serveControl() {
	for {
		conn, err := s.controlListener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if AcceptTransient(err) {
				metrics.IncAcceptTransient()
				continue
			}
			metrics.IncAcceptFatal()
			return
		}
		go s.dispatcher.Handle(conn)
	}
}

// RequestStop begins shutdown. It is safe to call more than once and from
// any goroutine (the control dispatcher's STOP handler, or a signal).
func (s *Supervisor) RequestStop() {
	s.stopOnce.Do(func() {
		NotifyStopping()
		close(s.stopCh)
	})
}

// Shutdown reverses the startup sequence exactly as spec.md §4.1
// prescribes: remote management, then metrics, then control; then the
// scheduler; then the registry; then the PID file.
func (s *Supervisor) Shutdown() {
	logger := log.WithComponent("supervisor")
	logger.Info().Msg("shutdown beginning")

	if s.remoteService != nil {
		s.remoteService.SetNotServing()
		s.remoteService.GRPCServer().GracefulStop()
	}
	if s.metricsGroup != nil {
		close(s.metricsStopCh)
		s.metricsGroup.Close()
	}
	if s.controlListener != nil {
		s.controlListener.Close()
	}

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	s.Registry.StopAll()

	snap := s.Region.Snapshot()
	RemovePidFile(snap.PidFile)

	logger.Info().Msg("shutdown complete")
}

func (s *Supervisor) reload() {
	logger := log.WithComponent("supervisor")
	NotifyReloading()

	oldSnap := s.Region.Snapshot()

	if _, err := s.Region.Reload(); err != nil {
		logger.Error().Err(err).Msg("reload failed")
		return
	}

	snap := s.Region.Snapshot()
	metrics.ServersConfigured.Set(float64(len(snap.Servers)))

	if snap.MetricsPort != oldSnap.MetricsPort {
		s.rebindMetrics(snap.MetricsPort)
	}
	if snap.ManagementPort != oldSnap.ManagementPort {
		s.rebindRemote(snap.ManagementPort)
	}

	logger.Info().Msg("configuration reloaded")
	NotifyReady(os.Getpid())
}

// rebindMetrics retires the current metrics listener group, if any, and
// binds+serves a new one on port, per spec.md §4.7's reload contract
// ("rebind both groups from the new ports"). port <= 0 just retires the old
// group, matching metrics being disabled by the new configuration.
func (s *Supervisor) rebindMetrics(port int) {
	logger := log.WithComponent("supervisor")

	if s.metricsGroup != nil {
		close(s.metricsStopCh)
		s.metricsGroup.Close()
		s.metricsGroup = nil
		s.metricsServer = nil
	}

	if port <= 0 {
		logger.Info().Msg("metrics listener disabled by reload")
		return
	}

	if err := s.bindMetrics(port); err != nil {
		logger.Error().Err(err).Int("port", port).Msg("rebinding metrics listener failed")
		metrics.UpdateComponent("metrics-listener", false, err.Error())
		return
	}
	s.serveMetrics()
	logger.Info().Int("port", port).Msg("metrics listener rebound")
}

// rebindRemote retires the current remote-management listener group and
// gRPC service, if any, and binds+serves a new one on port, mirroring
// rebindMetrics above.
func (s *Supervisor) rebindRemote(port int) {
	logger := log.WithComponent("supervisor")

	if s.remoteService != nil {
		s.remoteService.SetNotServing()
		s.remoteService.GRPCServer().GracefulStop()
		s.remoteGroup = nil
		s.remoteService = nil
	}

	if port <= 0 {
		logger.Info().Msg("remote management listener disabled by reload")
		return
	}

	if err := s.bindRemote(port); err != nil {
		logger.Error().Err(err).Int("port", port).Msg("rebinding remote management listener failed")
		metrics.UpdateComponent("remote-management", false, err.Error())
		return
	}
	s.serveRemote()
	logger.Info().Int("port", port).Msg("remote management listener rebound")
}

// Describe implements remote.Describer, exposing the running configuration
// to the gRPC remote management channel.
func (s *Supervisor) Describe() *config.Region {
	return s.Region
}

// compressionSweep runs one compression pass per configured server,
// matching spec.md §4.6's "for each server, fork a child" contract without
// an actual fork. A failure on one server is logged and does not stop the
// sweep from reaching the rest.
func (s *Supervisor) compressionSweep() error {
	logger := log.WithComponent("scheduler")
	if s.Compressor == nil {
		return nil
	}

	var firstErr error
	for _, server := range s.Region.Snapshot().Servers {
		if err := s.Compressor.Compress(server); err != nil {
			logger.Error().Str("server", server.Name).Err(err).Msg("compression sweep failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.WalCompressedTotal.Inc()
	}
	return firstErr
}

// retentionSweep applies the retention policy across the whole fleet in a
// single pass, matching spec.md §4.6's "fork a child that applies the
// retention policy across all servers" contract.
func (s *Supervisor) retentionSweep() error {
	if s.Retainer == nil {
		return nil
	}
	return s.Retainer.Retain(s.Region.Snapshot().Servers)
}

func metricsAddrs(port int) []string {
	return []string{
		fmt.Sprintf("0.0.0.0:%d", port),
		fmt.Sprintf("[::]:%d", port),
	}
}

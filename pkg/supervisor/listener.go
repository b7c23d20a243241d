package supervisor

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"syscall"

	"github.com/shikharish/pgmoneta/pkg/log"
	"github.com/shikharish/pgmoneta/pkg/metrics"
	"github.com/shikharish/pgmoneta/pkg/pgerr"
)

// maxGroupDescriptors caps the number of descriptors a single listener
// group (metrics, remote management) may expand to across address
// families. Exceeding it is fatal, per spec.md §4.1 step 9.
const maxGroupDescriptors = 64

// AcceptTransient reports whether err, returned from a net.Listener's
// Accept, should be logged and retried rather than triggering a rebind.
// The classification mirrors the original program's accept_fatal(): the
// listed errno values are treated as transient, everything else is fatal.
func AcceptTransient(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	switch errno {
	case syscall.EAGAIN,
		syscall.ENETDOWN,
		syscall.EPROTO,
		syscall.ENOPROTOOPT,
		syscall.EHOSTDOWN,
		syscall.EHOSTUNREACH,
		syscall.EOPNOTSUPP,
		syscall.ENETUNREACH:
		return true
	default:
		return false
	}
}

// ListenerGroup owns every net.Listener bound for one logical listener
// (metrics or remote management may expand to one listener per address
// family; control is always exactly one).
type ListenerGroup struct {
	Name      string
	mu        sync.Mutex
	listeners []net.Listener
	addrs     []string
	tlsConfig *tls.Config
}

// NewListenerGroup binds one listener per address in addrs (bounding the
// count to maxGroupDescriptors), optionally wrapped in TLS.
func NewListenerGroup(name string, addrs []string, tlsConfig *tls.Config) (*ListenerGroup, error) {
	if len(addrs) > maxGroupDescriptors {
		return nil, pgerr.New(pgerr.CapacityExceeded, name, nil)
	}

	g := &ListenerGroup{Name: name, addrs: addrs, tlsConfig: tlsConfig}
	for _, addr := range addrs {
		ln, err := bind(addr, tlsConfig)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.listeners = append(g.listeners, ln)
		log.WithComponent("listener").Debug().Str("group", name).Str("addr", addr).Msg("bound listener")
	}
	return g, nil
}

func bind(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	if tlsConfig != nil {
		return tls.Listen("tcp", addr, tlsConfig)
	}
	return net.Listen("tcp", addr)
}

// Listeners returns the group's current listeners, for callers (like the
// remote management gRPC service) that need to own their own Serve loop
// instead of the handle-per-connection model below.
func (g *ListenerGroup) Listeners() []net.Listener {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]net.Listener(nil), g.listeners...)
}

// Close closes every listener in the group.
func (g *ListenerGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for _, ln := range g.listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.listeners = nil
	return firstErr
}

// Serve runs an Accept loop per listener in the group, calling handle for
// every accepted connection in its own goroutine. On a fatal accept error
// only the failing listener is closed and rebound from its original
// address; the group's other listeners keep serving and are not rebound.
// If that rebind fails, the failing listener's loop stops. Serve returns
// once every Accept loop has ended: closing stop and then the group's
// listeners ends them.
func (g *ListenerGroup) Serve(stop <-chan struct{}, handle func(net.Conn)) {
	var wg sync.WaitGroup
	for i := range g.listeners {
		wg.Add(1)
		go g.serveOne(&wg, i, stop, handle)
	}
	wg.Wait()
}

func (g *ListenerGroup) serveOne(wg *sync.WaitGroup, idx int, stop <-chan struct{}, handle func(net.Conn)) {
	defer wg.Done()

	for {
		g.mu.Lock()
		ln := g.listeners[idx]
		g.mu.Unlock()

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}

			if AcceptTransient(err) {
				metrics.IncAcceptTransient()
				log.WithComponent("listener").Warn().Str("group", g.Name).Err(err).Msg("transient accept error")
				continue
			}

			metrics.IncAcceptFatal()
			log.WithComponent("listener").Warn().Str("group", g.Name).Err(err).Msg("fatal accept error, rebinding group")
			if rebindErr := g.rebindOne(idx); rebindErr != nil {
				log.WithComponent("listener").Error().Str("group", g.Name).Err(rebindErr).Msg("rebind failed")
				return
			}
			continue
		}

		go handle(conn)
	}
}

func (g *ListenerGroup) rebindOne(idx int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.listeners[idx].Close()
	ln, err := bind(g.addrs[idx], g.tlsConfig)
	if err != nil {
		return err
	}
	g.listeners[idx] = ln
	return nil
}

package supervisor

import (
	"context"
	"time"

	"github.com/shikharish/pgmoneta/pkg/config"
	"github.com/shikharish/pgmoneta/pkg/log"
)

// WalReceiver is the external collaborator that streams WAL from one
// configured server. The supervisor only owns the receiver's lifecycle
// (spawn, cancel, reap); the streaming protocol itself is out of scope
// (non-goal: replication wire protocol).
type WalReceiver interface {
	Receive(ctx context.Context, server config.ServerEntry) error
}

// RunReceiver runs one long-lived WAL receiver worker for server until ctx
// is cancelled, restarting the underlying Receive call with a short backoff
// if it returns an error — the goroutine equivalent of a forked child that
// is never respawned by the supervisor itself (receivers are not
// auto-restarted across worker *registrations*, only within one
// registration's own retry loop; see spec.md §9 open item (a)).
func RunReceiver(ctx context.Context, server config.ServerEntry, receiver WalReceiver, workerID string) {
	logger := log.WithWorkerID(workerID)
	logger.Info().Str("server", server.Name).Msg("WAL receiver starting")

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str("server", server.Name).Msg("WAL receiver stopping")
			return
		default:
		}

		err := receiver.Receive(ctx, server)
		if err == nil || ctx.Err() != nil {
			return
		}

		logger.Warn().Str("server", server.Name).Err(err).Dur("backoff", backoff).Msg("WAL receiver exited, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

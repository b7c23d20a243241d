package supervisor

import (
	"net"
	"time"

	"github.com/shikharish/pgmoneta/pkg/catalog"
	"github.com/shikharish/pgmoneta/pkg/config"
	"github.com/shikharish/pgmoneta/pkg/log"
	"github.com/shikharish/pgmoneta/pkg/metrics"
)

// Backuper is the external collaborator that performs the actual backup
// algorithm; the Control Dispatcher only resolves the target server and
// hands off to it.
type Backuper interface {
	Backup(server config.ServerEntry) error
}

// Compressor is the external collaborator invoked once per server by the
// WAL-compression sweep: it scans <base>/<server>/wal/ and compresses
// closed segments under the configured policy.
type Compressor interface {
	Compress(server config.ServerEntry) error
}

// Retainer is the external collaborator invoked once per retention sweep
// tick: it applies the retention policy across the whole server fleet in
// a single pass, matching the "fork a child that applies the retention
// policy across all servers" contract.
type Retainer interface {
	Retain(servers []config.ServerEntry) error
}

// Dispatcher implements the Control Dispatcher: it parses framed commands
// off the control channel and resolves the target server. Each connection's
// Handle call already runs in its own goroutine, off the accept loop. BACKUP
// hands the backup itself to a further goroutine and returns at once;
// LIST_BACKUP, DELETE and STOP/STATUS/DETAILS/ISALIVE/RESET/RELOAD run
// inline in Handle, writing any reply before the connection is closed.
type Dispatcher struct {
	region   *config.Region
	catalog  *catalog.Catalog
	backuper Backuper
	onStop   func()
	onReload func()
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(region *config.Region, cat *catalog.Catalog, backuper Backuper, onStop, onReload func()) *Dispatcher {
	return &Dispatcher{region: region, catalog: cat, backuper: backuper, onStop: onStop, onReload: onReload}
}

// Handle reads and dispatches exactly one Control Request from conn, then
// closes it — one command per connection, per spec.md §4.3.
func (d *Dispatcher) Handle(conn net.Conn) {
	defer conn.Close()

	logger := log.WithComponent("dispatcher")

	req, err := ReadRequest(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed control request")
		metrics.IncControlRequestFailed()
		return
	}

	metrics.IncControlRequest()
	logger.Debug().Str("kind", req.Kind.String()).Msg("control request")

	switch req.Kind {
	case KindBackup:
		d.handleBackup(req)
	case KindListBackup:
		d.handleListBackup(conn, req)
	case KindDelete:
		d.handleDelete(conn, req)
	case KindStop:
		logger.Debug().Msg("stop requested")
		if d.onStop != nil {
			d.onStop()
		}
	case KindStatus:
		writeStatus(conn, d.region)
	case KindDetails:
		writeDetails(conn, d.region)
	case KindIsAlive:
		writeIsAlive(conn)
	case KindReset:
		metrics.Reset()
	case KindReload:
		if d.onReload != nil {
			d.onReload()
		}
	default:
		logger.Debug().Int8("kind", int8(req.Kind)).Msg("unknown control request kind")
	}
}

// handleBackup resolves the target server and hands off to the backuper in
// its own goroutine; there is no reply path (an open item carried forward
// from spec.md §9 — "BACKUP still has no reply path").
func (d *Dispatcher) handleBackup(req Request) {
	logger := log.WithComponent("dispatcher")
	if len(req.Slots) < 1 {
		logger.Warn().Msg("BACKUP missing server name slot")
		return
	}

	server, ok := d.region.ServerByName(req.Slots[0])
	if !ok {
		logger.Error().Str("server", req.Slots[0]).Msg("BACKUP: unknown server")
		return
	}

	if d.backuper == nil {
		logger.Warn().Str("server", server.Name).Msg("BACKUP: no backuper configured")
		return
	}

	go func() {
		start := time.Now()
		outcome := "success"
		if err := d.backuper.Backup(server); err != nil {
			outcome = "failure"
			logger.Error().Str("server", server.Name).Err(err).Msg("backup failed")
		}
		metrics.BackupsTotal.WithLabelValues(server.Name, outcome).Inc()
		metrics.BackupDuration.WithLabelValues(server.Name).Observe(time.Since(start).Seconds())
	}()
}

func (d *Dispatcher) handleListBackup(conn net.Conn, req Request) {
	logger := log.WithComponent("dispatcher")
	if len(req.Slots) < 1 {
		logger.Warn().Msg("LIST_BACKUP missing server name slot")
		return
	}

	serverName := req.Slots[0]
	if _, ok := d.region.ServerByName(serverName); !ok {
		logger.Error().Str("server", serverName).Msg("LIST_BACKUP: unknown server")
	}

	backups, err := d.catalog.List(serverName)
	if err != nil {
		logger.Error().Err(err).Msg("LIST_BACKUP: catalog read failed")
		return
	}

	writeBackupList(conn, backups)
}

func (d *Dispatcher) handleDelete(conn net.Conn, req Request) {
	logger := log.WithComponent("dispatcher")
	if len(req.Slots) < 2 {
		logger.Warn().Msg("DELETE missing server/id slots")
		return
	}

	serverName, backupID := req.Slots[0], req.Slots[1]
	serverIndex, ok := d.region.ServerIndexByName(serverName)
	if !ok {
		logger.Error().Str("server", serverName).Msg("DELETE: unknown server")
		writeDeleteResult(conn, -1, false)
		return
	}

	existed, err := d.catalog.Delete(serverName, backupID)
	if err != nil {
		logger.Error().Err(err).Msg("DELETE: catalog write failed")
		writeDeleteResult(conn, serverIndex, false)
		return
	}
	writeDeleteResult(conn, serverIndex, existed)
}

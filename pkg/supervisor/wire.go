// Package supervisor implements the Lifecycle Controller, Listener Set,
// Periodic Scheduler, and Control Dispatcher: the event-loop core of the
// backup/restore supervisor.
package supervisor

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shikharish/pgmoneta/pkg/pgerr"
)

// Kind identifies a Control Request's operation.
type Kind int8

const (
	KindBackup Kind = iota
	KindListBackup
	KindDelete
	KindStop
	KindStatus
	KindDetails
	KindIsAlive
	KindReset
	KindReload
)

func (k Kind) String() string {
	switch k {
	case KindBackup:
		return "BACKUP"
	case KindListBackup:
		return "LIST_BACKUP"
	case KindDelete:
		return "DELETE"
	case KindStop:
		return "STOP"
	case KindStatus:
		return "STATUS"
	case KindDetails:
		return "DETAILS"
	case KindIsAlive:
		return "ISALIVE"
	case KindReset:
		return "RESET"
	case KindReload:
		return "RELOAD"
	default:
		return "UNKNOWN"
	}
}

// maxSlotLen bounds a single payload slot so a malformed or hostile length
// prefix cannot make ReadRequest allocate unbounded memory.
const maxSlotLen = 1 << 20

// Request is one framed Control Request: kind:i8, n_slots:i32, then
// n_slots length-prefixed payload slots, all big-endian.
type Request struct {
	Kind  Kind
	Slots []string
}

// WriteRequest frames and writes req to w.
func WriteRequest(w io.Writer, req Request) error {
	if err := binary.Write(w, binary.BigEndian, int8(req.Kind)); err != nil {
		return fmt.Errorf("writing kind: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, int32(len(req.Slots))); err != nil {
		return fmt.Errorf("writing slot count: %w", err)
	}
	for _, s := range req.Slots {
		if err := binary.Write(w, binary.BigEndian, int32(len(s))); err != nil {
			return fmt.Errorf("writing slot length: %w", err)
		}
		if _, err := w.Write([]byte(s)); err != nil {
			return fmt.Errorf("writing slot payload: %w", err)
		}
	}
	return nil
}

// ReadRequest reads one framed Control Request from r.
func ReadRequest(r io.Reader) (Request, error) {
	var kind int8
	if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
		return Request{}, pgerr.New(pgerr.WireMalformed, "reading kind", err)
	}

	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return Request{}, pgerr.New(pgerr.WireMalformed, "reading slot count", err)
	}
	if n < 0 || n > 2 {
		return Request{}, pgerr.New(pgerr.WireMalformed, fmt.Sprintf("invalid slot count %d", n), nil)
	}

	slots := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		var slotLen int32
		if err := binary.Read(r, binary.BigEndian, &slotLen); err != nil {
			return Request{}, pgerr.New(pgerr.WireMalformed, "reading slot length", err)
		}
		if slotLen < 0 || slotLen > maxSlotLen {
			return Request{}, pgerr.New(pgerr.WireMalformed, fmt.Sprintf("slot length %d out of bounds", slotLen), nil)
		}
		buf := make([]byte, slotLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Request{}, pgerr.New(pgerr.WireMalformed, "reading slot payload", err)
		}
		slots = append(slots, string(buf))
	}

	return Request{Kind: Kind(kind), Slots: slots}, nil
}

package supervisor

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/shikharish/pgmoneta/pkg/catalog"
	"github.com/shikharish/pgmoneta/pkg/config"
	"github.com/shikharish/pgmoneta/pkg/log"
)

// writeJSON frames a JSON payload as a single big-endian length-prefixed
// block, the same length-prefix convention the wire protocol uses for
// request slots.
func writeJSON(w io.Writer, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithComponent("dispatcher").Error().Err(err).Msg("marshaling control reply")
		return
	}
	if err := binary.Write(w, binary.BigEndian, int32(len(data))); err != nil {
		return
	}
	_, _ = w.Write(data)
}

type statusReply struct {
	Servers        int `json:"servers"`
	WorkersActive  int `json:"workers_active"`
	MetricsPort    int `json:"metrics_port"`
	ManagementPort int `json:"management_port"`
}

func writeStatus(w io.Writer, region *config.Region) {
	snap := region.Snapshot()
	writeJSON(w, statusReply{
		Servers:        len(snap.Servers),
		MetricsPort:    snap.MetricsPort,
		ManagementPort: snap.ManagementPort,
	})
}

type detailsReply struct {
	Servers []config.ServerEntry `json:"servers"`
}

func writeDetails(w io.Writer, region *config.Region) {
	snap := region.Snapshot()
	writeJSON(w, detailsReply{Servers: snap.Servers})
}

func writeIsAlive(w io.Writer) {
	_, _ = w.Write([]byte{1})
}

func writeBackupList(w io.Writer, backups []catalog.Backup) {
	writeJSON(w, backups)
}

// deleteReply mirrors spec.md §8's DELETE-success scenario exactly
// (`{server_index=1, result=0}`): result is a status code, 0 for success,
// matching the original program's return-code convention rather than a
// JSON bool.
type deleteReply struct {
	ServerIndex int `json:"server_index"`
	Result      int `json:"result"`
}

func writeDeleteResult(w io.Writer, serverIndex int, ok bool) {
	result := 1
	if ok {
		result = 0
	}
	writeJSON(w, deleteReply{ServerIndex: serverIndex, Result: result})
}

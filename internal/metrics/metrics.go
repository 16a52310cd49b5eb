package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ChunkDuplicates counts inbound chunks dropped as re-deliveries.
	ChunkDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "noah_chunks_duplicate_total",
		Help: "Inbound content chunks discarded because their identity was already applied.",
	})

	// ChunkHashIdentity counts chunks identified by the best-effort hash
	// fallback instead of a wire sequence number. A rising rate means the
	// backend stopped emitting sequences and dedup correctness degraded.
	ChunkHashIdentity = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "noah_chunk_hash_identity_total",
		Help: "Content chunks deduplicated via the hash fallback path.",
	})

	// SocketReconnects counts reconnection attempts scheduled after an
	// abnormal close of the persistent transport.
	SocketReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "noah_socket_reconnects_total",
		Help: "Reconnection attempts of the persistent socket transport.",
	})

	// SnapshotWrites counts durable history snapshot writes.
	SnapshotWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "noah_snapshot_writes_total",
		Help: "History snapshots written to the local durable store.",
	})
)

func init() {
	prometheus.MustRegister(ChunkDuplicates, ChunkHashIdentity, SocketReconnects, SnapshotWrites)
}

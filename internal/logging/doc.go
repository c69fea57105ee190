// Package logging provides structured logging for gotmesh peers.
//
// It wraps log/slog with a JSON handler and a small set of persistent
// attributes (peer, task, worker) so that every line written by a peer can be
// filtered after the fact. Long-running peers write through a size-based
// [RotatingWriter]; tests use [NopLogger].
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(dataDir, "info", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	peerLog := logger.WithPeer("peer-a")
//	peerLog.WithTask("t1").Info("task claimed", "priority", 1)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"task claimed","peer_id":"peer-a","task_id":"t1","priority":1}
//
// # Thread Safety
//
// [Logger] and [RotatingWriter] are safe for concurrent use. Child loggers
// created via With* share the parent's writer.
package logging

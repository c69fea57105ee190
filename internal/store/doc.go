// Package store persists task results.
//
// [ResultStore] is the narrow interface the task manager depends on.
// [MemoryStore] keeps results in a map and suits tests and ephemeral runs.
// [FileStore] writes one JSON document per task under a results directory,
// using atomic rename and an advisory [FileLock] so that several gotmesh
// processes can share a data directory.
package store

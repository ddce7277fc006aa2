// Package checkpoint persists workflow state, one record per thread id.
//
// Records are plain JSON: a tampered or corrupt record can fail to load
// (ErrCorrupt) but can never run code. Saving the same thread again
// replaces the previous record.
//
// Backends: MemoryStore, FileStore, SQLStore (sqlite, postgres, mysql via
// gorm) and RedisStore. New picks one from config.CheckpointConfig. Every
// Store is a workflow.Checkpointer and can be passed to
// workflow.WithCheckpointer.
package checkpoint

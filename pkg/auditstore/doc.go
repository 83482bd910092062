// Package auditstore provides auditing.Store implementations that persist
// finished audit logs.
//
// # Stores
//
//   - MemoryStore: bounded in-process buffer, for development and tests
//   - FileStore: newline-delimited JSON with size based rotation
//   - PostgresStore: normalized tables for logs, actions, entity changes and
//     property changes, written in one transaction, plus retention cleanup
//   - SQLiteStore: single-file database of JSON documents, with retention
//     cleanup
//   - RedisStore: capped feed of recent logs and per-log keys with a TTL
//   - S3Store: one JSON object per log under <prefix>/yyyy/mm/dd/<id>.json
//   - MultiStore: concurrent fan-out to several named sinks
//
// # Usage Example
//
//	stores, err := auditstore.Open(ctx, cfg.Store, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer stores.Close()
//
//	manager, err := auditing.NewManager(stores.Store(), registry)
package auditstore

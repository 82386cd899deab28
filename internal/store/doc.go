// Package store provides the SQLite-backed local replica store.
//
// Tables:
//   - entries: one row per object (DN, normalized DN, parent, objectGUID, USNs)
//   - attributes: one row per attribute with its values and attribute metadata
//   - value_metadata: per-value metadata of multi-valued attributes
//
// # Invariants
//
// Every attribute row carries metadata. A row whose value list is empty is a
// deleted attribute, not an absent one.
//
// usn_changed is the local sequence number of the last write transaction
// that touched the entry. It is supplied by the caller, which allocates it
// from the write-ordering queue.
//
// # Transactions
//
// All mutation goes through Txn, obtained from BeginWrite. SQLite lock
// contention (SQLITE_BUSY, SQLITE_LOCKED) is reported as ErrDeadlock so the
// caller can abort and retry.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

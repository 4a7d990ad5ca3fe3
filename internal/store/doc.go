// Package store provides the SQLite-backed unit of work for the game core.
//
// Every read and write of nodes, spells, recipes, players, and inventory goes
// through a Tx obtained from Store.Begin. A Tx captures one timestamp at
// begin (Tx.Now) that every created_at written during its lifetime uses, and
// it moves through a one-way state machine:
//
//	Open → Committed
//	Open → RolledBack
//
// Any call on a Tx after it reached a terminal state fails with ErrTxDone.
// A failed statement leaves the Tx Open so the caller can still roll back.
// Cancelling the context passed to Begin rolls the transaction back.
//
// # Critical Patterns
//
// Uniqueness is enforced by the schema, not by application locks:
//   - recipes.canonical_key UNIQUE: at most one product per ingredient multiset
//   - idx_nodes_natural_child: at most one natural continuation per node
//   - idx_nodes_fork_position: fork positions unique per parent
//   - inventory_contents PRIMARY KEY (user_id, spell_id)
//
// Callers detect lost races with IsUniqueViolation and resolve them locally.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Take the write lock at BEGIN so upgrades never deadlock
package store

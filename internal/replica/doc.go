// Package replica replicates the local store against a remote copy.
//
// Overview
//
// Local writes land in the store's outbox. The Replicator drains the
// outbox to a Remote, resolves write conflicts through the store's
// conflict handler, then pulls remote changes newer than the per-model
// cursor:
//
//	Collection.Save / Delete
//	     ↓
//	  records + outbox (datastore)
//	     ↓ push (collapsed per record)
//	  Remote.Push(record, baseVersion) ──conflict──→ ResolveConflict
//	     ↓
//	  Remote.Pull(model, since)
//	     ↓
//	  ApplyRemote → observers, live queries
//
// Lifecycle
//
// A Replicator is attached to the store as its engine and is driven by
// Store.Start and Store.Stop:
//
//	store.Attach(replica.New(store, remote, nil))
//	if err := store.Start(ctx); err != nil {
//	    return err
//	}
//
// Each cycle publishes networkStatus, syncQueriesStarted (first cycle
// only), ready once the first push and pull succeed, and outboxStatus.
// Failures publish syncQueriesError and the loop carries on at the next
// interval.
//
// Remotes
//
// PeerRemote uses a second store file as the shared cloud copy, so two
// local stores pointed at the same peer converge the way two devices do.
package replica

// Package schema defines the records held by the local store.
//
// # Overview
//
// Every stored record carries two identities:
//
//   - an opaque store id assigned on first save (Meta.ID)
//   - a business key (pk, optionally with sk) chosen by the application
//
// Fixture reconciliation matches on the business key. The store only ever
// looks at the id.
//
// # Core and derived models
//
// Activity, Question and Task are core models: seed content that a fixture
// can create, update and prune. TaskAnswer, TaskResult, TaskHistory,
// DataPoint and DataPointInstance are derived models holding submitted
// patient data. They are only removed by an explicit derived-model prune.
//
// # Wire format
//
// JSON field names follow the fixture bundle format (camelCase). Store
// metadata uses the underscore-prefixed names (_version, _lastChangedAt,
// _deleted) so records round-trip through fixtures and the sync peer
// unchanged.
package schema

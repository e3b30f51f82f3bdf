// Package domain defines the core business types for the Event Stream Engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation and state-machine rules. They are the shared language between
// handlers, the ingestor, the orchestrator, and the store.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and transition methods are allowed (pure functions on the type)
//   - Constants and enums belong here
package domain

// Package auditing records what a logical operation did: which audited
// service methods it called and which entities it changed.
//
// # Overview
//
// A Manager opens a Scope per logical operation. Scopes travel in the
// context.Context, so nested calls and goroutines started with the derived
// context join the same chain and contribute to one shared AuditLogInfo.
// Closing the outermost scope saves that log exactly once to the Store.
//
//	ctx, scope := manager.BeginScope(ctx)
//	defer scope.Close()
//
//	err := manager.Intercept(ctx, auditing.Invocation{
//		Service: "orders.OrderService",
//		Method:  "PlaceOrder",
//		Arguments: []auditing.Argument{{Name: "input", Value: input}},
//	}, func(ctx context.Context) error {
//		return svc.PlaceOrder(ctx, input)
//	})
//
// # Policy
//
// Whether something is audited is decided from a Registry populated at
// startup, plus Options:
//
//   - Types: an Audited or DisableAuditing marker wins; otherwise types with
//     the AuditingEnabled capability are audited when DefaultAuditingEnabled
//     is set. EntitySelectors audit matching types regardless of markers.
//   - Properties: an Audited marker always audits; DisableAuditing never
//     does; reserved base properties (CreationTime, CreatorId, ...) are left
//     out unless listed in ExtraBaseAuditProperties.
//   - Services: integration services are never audited; otherwise markers,
//     then capability plus a non read-only method name.
//
// Registry.Scan reads the same metadata from Go types: marker interfaces and
// `audited:"true"` / `audited:"false"` struct tags.
//
// # Entity changes
//
// RecordEntityChanges diffs a unit-of-work change-set (see Track) and appends
// the resulting EntityChange records. Values are compared by their canonical
// serialization. Value objects are flattened into pseudo-entities identified by
// the sha256 of their canonical form: creations are placed before the owning
// entity's change, deletions after it, and in-place updates before it.
//
// # Failure handling
//
// Auditing never fails the business operation. Selector failures and
// unserializable values are recorded and skipped, business errors are recorded
// and returned unchanged, and store errors are logged and swallowed.
package auditing

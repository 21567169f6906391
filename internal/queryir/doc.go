// Package queryir is the abstract statement representation used for every
// tenant-owned table access.
//
// Store code never concatenates SQL for tenant-owned tables. It builds a
// Select, Update or Insert value and hands it to querysql, which is the only
// place that renders SQL and the only place that attaches the tenant
// predicate. Because the predicate is attached by the compiler rather than by
// each call site, a new code path cannot forget it.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed with the marker method pattern. Only types
// in this package implement them, so compilers can switch exhaustively.
//
// TENANT RULES:
//   - Statements never name the tenant explicitly; the compiler injects it
//   - Update may not assign tenant_id or id
//   - Insert may carry tenant_id only if it equals the scoped tenant
//   - Update requires a filter (no tenant-wide mass updates)
package queryir

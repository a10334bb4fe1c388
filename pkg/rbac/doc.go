// Package rbac resolves roles and capabilities for a multi-tenant event
// production platform.
//
// # Overview
//
// Every tenant defines named roles with a hierarchy level (0 is the most
// authority, 10 the least) and grants each role a capability set on each
// protectable resource. The package answers one question for the rest of the
// product: may this set of roles perform this action on this resource, and
// over which rows?
//
// # Components
//
//	RoleStore          - create, update, delete and assign roles
//	PermissionMatrix   - sparse (role, resource) grant table with cascades
//	Resolver           - OR across held roles, widest scope, root bypass
//	HierarchyValidator - level bounds and reporting-line cycle checks
//	Aggregator         - authority matrix analytics and saved presets
//	Manager            - wires the above over one Backend
//
// # Capabilities and Cascade
//
// A grant carries view, edit and delete flags plus a data scope
// (self < team < global). The flags always satisfy delete => edit => view:
//
//	matrix.SetCapability(ctx, roleID, "events.list", rbac.CapabilityDelete, true)
//	// view, edit and delete are now all set
//
//	matrix.SetCapability(ctx, roleID, "events.list", rbac.CapabilityView, false)
//	// everything is cleared and the scope collapses to self
//
// A missing grant row means no access with scope self.
//
// # Resolution
//
//	d, err := resolver.ResolvePrincipal(ctx, principalID, "budget.view", rbac.CapabilityView)
//	if err != nil {
//		// d is a deny decision; the store could not be read
//	}
//	if d.Allowed {
//		rows := filterByScope(d.DataScope)
//	}
//
// An active role at level 0, or the system role named "Super Admin", bypasses
// the matrix and is allowed everything with global scope. Suspended roles are
// ignored entirely; restricted roles keep their grants but never bypass.
//
// Decisions can be memoized per request with WithRequestMemo and cached across
// requests with a DecisionCache (see package cache). Every committed write
// invalidates the caches of the affected role.
//
// # System Roles
//
// System roles are created by EnsureSystemRole from deployment configuration.
// They cannot be deleted, their identity fields cannot be edited, and their
// grants cannot be lowered below the defaults registered in SystemDefaults.
//
// # Errors
//
// Every operation returns *Error carrying a Kind. Callers map kinds to their
// own messages:
//
//	if errors.Is(err, rbac.ErrDuplicateName) {
//		...
//	}
//	switch rbac.KindOf(err) {
//	case rbac.KindStoreUnavailable:
//		...
//	}
//
// # Storage
//
// Backend is implemented by storage/sqlstore (Postgres and SQLite) and
// storage/memory. Multi-row writes run inside Backend.WithTx.
//
// # HTTP
//
// Handlers expose the components under /rbac. PermissionMiddleware guards
// routes by resolving the calling principal taken from the request context.
package rbac

package rbac

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/backstage/pkg/audit"
	"github.com/platinummonkey/backstage/pkg/contextkeys"
	"github.com/platinummonkey/backstage/pkg/httputil"
)

// AuditQuerier is implemented by audit sinks that can serve queries
type AuditQuerier interface {
	Query(ctx context.Context, tenantID string, filter audit.Filter) ([]audit.StoredEvent, error)
}

// Handlers provides HTTP handlers for the admin API
type Handlers struct {
	manager     *Manager
	auditLogger audit.Logger
	logger      logrus.FieldLogger
}

// NewHandlers creates admin handlers over the manager's components
func NewHandlers(manager *Manager, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Handlers{
		manager:     manager,
		auditLogger: auditLogger,
		logger:      manager.roles.opts.logger,
	}
}

// RegisterRoutes registers all admin routes. Everything except /rbac/me is
// guarded by the admin resource.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	self := router.PathPrefix("/rbac/me").Subrouter()
	self.HandleFunc("/roles", h.MyRoles).Methods("GET")
	self.HandleFunc("/resolve", h.ResolveSelf).Methods("GET")

	admin := router.PathPrefix("/rbac").Subrouter()
	admin.Use(h.manager.middleware.RequireByMethod(h.manager.config.AdminResource))

	// Roles
	admin.HandleFunc("/roles", h.CreateRole).Methods("POST")
	admin.HandleFunc("/roles", h.ListRoles).Methods("GET")
	admin.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	admin.HandleFunc("/roles/{id}", h.UpdateRole).Methods("PATCH")
	admin.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")

	// Grants
	admin.HandleFunc("/roles/{id}/grants", h.ListGrants).Methods("GET")
	admin.HandleFunc("/roles/{id}/grants", h.BulkUpsertGrants).Methods("PUT")
	admin.HandleFunc("/roles/{id}/grants/{resource}", h.GetGrant).Methods("GET")
	admin.HandleFunc("/roles/{id}/grants/{resource}/capability", h.SetCapability).Methods("PUT")
	admin.HandleFunc("/roles/{id}/grants/{resource}/scope", h.SetDataScope).Methods("PUT")

	// Principals
	admin.HandleFunc("/principals/{id}/roles", h.GetPrincipalRoles).Methods("GET")
	admin.HandleFunc("/principals/{id}/roles", h.AssignRole).Methods("POST")
	admin.HandleFunc("/principals/{id}/roles/{role_id}", h.UnassignRole).Methods("DELETE")
	admin.HandleFunc("/principals/{id}/manager", h.SetManager).Methods("PUT")
	admin.HandleFunc("/principals/{id}/manager", h.ClearManager).Methods("DELETE")

	// Resolution and catalog
	admin.HandleFunc("/resolve", h.Resolve).Methods("POST")
	admin.HandleFunc("/resources", h.ListResources).Methods("GET")
	admin.HandleFunc("/stats", h.GetStats).Methods("GET")
	admin.HandleFunc("/audit", h.QueryAudit).Methods("GET")

	// Analytics
	admin.HandleFunc("/analytics/authority", h.ComputeAuthorityMatrix).Methods("POST")
	admin.HandleFunc("/analytics/presets", h.ListPresets).Methods("GET")
	admin.HandleFunc("/analytics/presets", h.CreatePreset).Methods("POST")
	admin.HandleFunc("/analytics/presets/{id}/matrix", h.ApplyPreset).Methods("GET")
	admin.HandleFunc("/analytics/presets/{id}", h.DeletePreset).Methods("DELETE")
}

type createRoleRequest struct {
	Name           string   `json:"name" validate:"required,max=128"`
	HierarchyLevel *int     `json:"hierarchy_level" validate:"required"`
	RoleType       RoleType `json:"role_type" validate:"required,oneof=internal external"`
}

type setCapabilityRequest struct {
	Capability Capability `json:"capability" validate:"required,oneof=view edit delete"`
	Value      *bool      `json:"value" validate:"required"`
}

type setScopeRequest struct {
	DataScope DataScope `json:"data_scope" validate:"required,oneof=self team global"`
}

type bulkUpsertRequest struct {
	Grants []PermissionGrant `json:"grants" validate:"required,min=1"`
}

type assignRoleRequest struct {
	RoleID RoleID `json:"role_id" validate:"required"`
}

type setManagerRequest struct {
	ManagerID string `json:"manager_id" validate:"required"`
}

type resolveRequest struct {
	RoleIDs     []RoleID   `json:"role_ids" validate:"required_without=PrincipalID"`
	PrincipalID string     `json:"principal_id" validate:"required_without=RoleIDs"`
	ResourceID  ResourceID `json:"resource_id" validate:"required"`
	Action      Capability `json:"action" validate:"required"`
}

type authorityRequest struct {
	RoleIDs []RoleID `json:"role_ids"`
	Modules []string `json:"modules"`
}

type createPresetRequest struct {
	Name    string   `json:"name" validate:"required,max=128"`
	RoleIDs []RoleID `json:"role_ids" validate:"required,min=1"`
	Modules []string `json:"modules"`
}

// CreateRole creates a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}

	event := h.event(r, audit.EventTypeRoleCreate)
	role, err := h.manager.roles.CreateRole(r.Context(), req.Name, *req.HierarchyLevel, req.RoleType)
	if role != nil {
		event.RoleID = string(role.ID)
		event.After = role
	}
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	h.committed(w, r, event, err, http.StatusCreated, role)
}

// ListRoles lists all roles of the tenant
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.roles.ListRoles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.manager.roles.GetRole(r.Context(), RoleID(id))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole applies a partial update
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var patch RolePatch
	if err := httputil.ParseJSON(r, &patch); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	event := h.event(r, audit.EventTypeRoleUpdate)
	event.RoleID = id
	if before, err := h.manager.roles.GetRole(r.Context(), RoleID(id)); err == nil {
		event.Before = before
	}

	role, err := h.manager.roles.UpdateRole(r.Context(), RoleID(id), patch)
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	event.After = role
	h.committed(w, r, event, err, http.StatusOK, role)
}

// DeleteRole removes a role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	event := h.event(r, audit.EventTypeRoleDelete)
	event.RoleID = id
	if before, err := h.manager.roles.GetRole(r.Context(), RoleID(id)); err == nil {
		event.Before = before
	}

	err := h.manager.roles.DeleteRole(r.Context(), RoleID(id))
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	h.committed(w, r, event, err, http.StatusNoContent, nil)
}

// ListGrants returns the stored grant rows of a role
func (h *Handlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	grants, err := h.manager.matrix.ListGrants(r.Context(), RoleID(id))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, grants)
}

// GetGrant returns the grant of a role on a resource, defaulting to no access
func (h *Handlers) GetGrant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	g, err := h.manager.matrix.GetGrant(r.Context(), RoleID(vars["id"]), ResourceID(vars["resource"]))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, g)
}

// SetCapability sets one capability with cascade
func (h *Handlers) SetCapability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req setCapabilityRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}

	roleID, resourceID := RoleID(vars["id"]), ResourceID(vars["resource"])
	event := h.event(r, audit.EventTypeGrantCapability)
	event.RoleID = string(roleID)
	event.ResourceID = string(resourceID)
	if before, err := h.manager.matrix.GetGrant(r.Context(), roleID, resourceID); err == nil {
		event.Before = before
	}

	g, err := h.manager.matrix.SetCapability(r.Context(), roleID, resourceID, req.Capability, *req.Value)
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	event.After = g
	h.committed(w, r, event, err, http.StatusOK, g)
}

// SetDataScope changes the scope of a viewable grant
func (h *Handlers) SetDataScope(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req setScopeRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}

	roleID, resourceID := RoleID(vars["id"]), ResourceID(vars["resource"])
	event := h.event(r, audit.EventTypeGrantScope)
	event.RoleID = string(roleID)
	event.ResourceID = string(resourceID)
	if before, err := h.manager.matrix.GetGrant(r.Context(), roleID, resourceID); err == nil {
		event.Before = before
	}

	g, err := h.manager.matrix.SetDataScope(r.Context(), roleID, resourceID, req.DataScope)
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	event.After = g
	h.committed(w, r, event, err, http.StatusOK, g)
}

// BulkUpsertGrants writes several grants of one role atomically
func (h *Handlers) BulkUpsertGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req bulkUpsertRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}

	event := h.event(r, audit.EventTypeGrantBulk)
	event.RoleID = id
	grants, err := h.manager.matrix.BulkUpsert(r.Context(), RoleID(id), req.Grants)
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	event.After = grants
	h.committed(w, r, event, err, http.StatusOK, grants)
}

// GetPrincipalRoles returns the roles a principal holds
func (h *Handlers) GetPrincipalRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	h.writePrincipalRoles(w, r, id)
}

// MyRoles returns the roles of the calling principal
func (h *Handlers) MyRoles(w http.ResponseWriter, r *http.Request) {
	principalID := contextkeys.GetPrincipalID(r.Context())
	if principalID == "" {
		httputil.WriteUnauthorized(w, "principal required")
		return
	}
	h.writePrincipalRoles(w, r, principalID)
}

func (h *Handlers) writePrincipalRoles(w http.ResponseWriter, r *http.Request, principalID string) {
	ids, err := h.manager.roles.RolesForPrincipal(r.Context(), principalID)
	if err != nil {
		writeError(w, err)
		return
	}
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		role, err := h.manager.roles.GetRole(r.Context(), id)
		if err != nil {
			if KindOf(err) == KindNotFound {
				continue
			}
			writeError(w, err)
			return
		}
		roles = append(roles, *role)
	}
	httputil.WriteSuccess(w, roles)
}

// AssignRole gives a principal a role
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}

	event := h.event(r, audit.EventTypeRoleAssign)
	event.PrincipalID = principalID
	event.RoleID = string(req.RoleID)
	err := h.manager.roles.AssignRole(r.Context(), principalID, req.RoleID)
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	h.committed(w, r, event, err, http.StatusNoContent, nil)
}

// UnassignRole removes a role from a principal
func (h *Handlers) UnassignRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	event := h.event(r, audit.EventTypeRoleUnassign)
	event.PrincipalID = vars["id"]
	event.RoleID = vars["role_id"]

	err := h.manager.roles.UnassignRole(r.Context(), vars["id"], RoleID(vars["role_id"]))
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	h.committed(w, r, event, err, http.StatusNoContent, nil)
}

// SetManager stores a reporting line after cycle checks
func (h *Handlers) SetManager(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req setManagerRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}

	event := h.event(r, audit.EventTypeReportingSet)
	event.PrincipalID = principalID
	event.After = req
	err := h.manager.hierarchy.SetManager(r.Context(), principalID, req.ManagerID)
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	h.committed(w, r, event, err, http.StatusNoContent, nil)
}

// ClearManager removes a reporting line
func (h *Handlers) ClearManager(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	event := h.event(r, audit.EventTypeReportingClear)
	event.PrincipalID = principalID
	err := h.manager.hierarchy.ClearManager(r.Context(), principalID)
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	h.committed(w, r, event, err, http.StatusNoContent, nil)
}

// Resolve evaluates a role set or a principal against a resource
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}

	var (
		d   Decision
		err error
	)
	if len(req.RoleIDs) > 0 {
		d, err = h.manager.resolver.Resolve(r.Context(), req.RoleIDs, req.ResourceID, req.Action)
	} else {
		d, err = h.manager.resolver.ResolvePrincipal(r.Context(), req.PrincipalID, req.ResourceID, req.Action)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, d)
}

// ResolveSelf answers a permission question for the calling principal
func (h *Handlers) ResolveSelf(w http.ResponseWriter, r *http.Request) {
	principalID := contextkeys.GetPrincipalID(r.Context())
	if principalID == "" {
		httputil.WriteUnauthorized(w, "principal required")
		return
	}
	q := r.URL.Query()
	resourceID := ResourceID(q.Get("resource"))
	action := Capability(q.Get("action"))
	if resourceID == "" || action == "" {
		httputil.WriteBadRequest(w, "resource and action are required")
		return
	}

	d, err := h.manager.resolver.ResolvePrincipal(r.Context(), principalID, resourceID, action)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, d)
}

// ListResources returns the resource catalog
func (h *Handlers) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.manager.backend.ListResources(r.Context())
	if err != nil {
		writeError(w, storeError("rbac.ListResources", err))
		return
	}
	httputil.WriteSuccess(w, resources)
}

// GetStats returns role model counts
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// QueryAudit returns recent audit events when the sink supports queries
func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	querier, ok := h.auditLogger.(AuditQuerier)
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "audit_query_unsupported")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		EventType: audit.EventType(q.Get("event_type")),
		RoleID:    q.Get("role_id"),
		ActorID:   q.Get("actor_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be RFC3339")
			return
		}
		filter.Since = since
	}

	events, err := querier.Query(r.Context(), h.manager.config.TenantID, filter)
	if errors.Is(err, audit.ErrQueryUnsupported) {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "audit_query_unsupported")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("audit query failed")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, string(KindStoreUnavailable))
		return
	}
	httputil.WriteSuccess(w, events)
}

// ComputeAuthorityMatrix scores roles across modules
func (h *Handlers) ComputeAuthorityMatrix(w http.ResponseWriter, r *http.Request) {
	var req authorityRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}
	m, err := h.manager.aggregator.ComputeAuthorityMatrix(r.Context(), req.RoleIDs, req.Modules)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

// ListPresets lists presets of ?owner=, defaulting to the caller
func (h *Handlers) ListPresets(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = contextkeys.GetPrincipalID(r.Context())
	}
	presets, err := h.manager.aggregator.ListPresets(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, presets)
}

// CreatePreset saves a selection for the calling principal
func (h *Handlers) CreatePreset(w http.ResponseWriter, r *http.Request) {
	var req createPresetRequest
	if !httputil.ParseAndValidateOrError(w, r, &req) {
		return
	}

	event := h.event(r, audit.EventTypePresetCreate)
	preset, err := h.manager.aggregator.CreatePreset(r.Context(), contextkeys.GetPrincipalID(r.Context()), req.Name, req.RoleIDs, req.Modules)
	if err != nil {
		h.fail(w, r, event, err)
		return
	}
	event.After = preset
	h.committed(w, r, event, nil, http.StatusCreated, preset)
}

// ApplyPreset computes the matrix of a saved preset
func (h *Handlers) ApplyPreset(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	m, err := h.manager.aggregator.ApplyPreset(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

// DeletePreset removes a preset
func (h *Handlers) DeletePreset(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	event := h.event(r, audit.EventTypePresetDelete)
	event.Message = id
	err := h.manager.aggregator.DeletePreset(r.Context(), id)
	if err != nil && !IsInvalidationFailure(err) {
		h.fail(w, r, event, err)
		return
	}
	h.committed(w, r, event, err, http.StatusNoContent, nil)
}

// event starts an audit event for the request
func (h *Handlers) event(r *http.Request, eventType audit.EventType) *audit.Event {
	ctx := r.Context()
	return &audit.Event{
		EventType: eventType,
		TenantID:  h.manager.config.TenantID,
		ActorID:   contextkeys.GetPrincipalID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		IPAddress: clientIP(r),
	}
}

// record logs a committed mutation. A non-nil err is a post-commit cache
// invalidation failure and is noted on the event.
func (h *Handlers) record(ctx context.Context, event *audit.Event, err error) {
	event.Status = audit.EventStatusSuccess
	if err != nil {
		event.ErrorKind = string(KindOf(err))
		event.Message = "cache invalidation failed"
	}
	if logErr := h.auditLogger.Log(ctx, event); logErr != nil {
		h.logger.WithError(logErr).WithField("event_type", event.EventType).Warn("failed to write audit event")
	}
}

// committedResult is the detail of a 503 sent after a committed write whose
// cache invalidation failed. The client should retry the same write.
type committedResult struct {
	Committed bool        `json:"committed"`
	Result    interface{} `json:"result,omitempty"`
}

// committed audits a committed mutation and writes its reply. A non-nil err
// is a post-commit invalidation failure: stale decisions may still be served,
// so the reply is 503 store_unavailable carrying the committed result.
func (h *Handlers) committed(w http.ResponseWriter, r *http.Request, event *audit.Event, err error, status int, body interface{}) {
	h.record(r.Context(), event, err)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"event_type": event.EventType,
			"role_id":    event.RoleID,
		}).WithError(err).Error("write committed but caches were not invalidated")
		httputil.WriteDetailedError(w, http.StatusServiceUnavailable, string(KindStoreUnavailable), "",
			committedResult{Committed: true, Result: body})
		return
	}
	if status == http.StatusNoContent {
		httputil.WriteNoContent(w)
		return
	}
	httputil.WriteJSON(w, status, body)
}

// fail logs a rejected mutation and writes the error response
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, event *audit.Event, err error) {
	event.Status = audit.EventStatusFailure
	event.ErrorKind = string(KindOf(err))
	if logErr := h.auditLogger.Log(r.Context(), event); logErr != nil {
		h.logger.WithError(logErr).WithField("event_type", event.EventType).Warn("failed to write audit event")
	}
	writeError(w, err)
}

// writeError maps an engine error onto a status and a machine-readable kind
func writeError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	var e *Error
	if kind == KindPartialFailure && errors.As(err, &e) {
		httputil.WriteDetailedError(w, statusForKind(kind), string(kind), "", e.Failures)
		return
	}
	httputil.WriteErrorMessage(w, statusForKind(kind), string(kind))
}

func statusForKind(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateName, KindRoleInUse:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindInvalidLevel, KindViewRequired, KindCycle, KindSelfReference, KindPartialFailure:
		return http.StatusUnprocessableEntity
	case KindSystemRoleImmutable, KindSystemRoleProtected:
		return http.StatusForbidden
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package rbac_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backstage/pkg/audit"
	"github.com/platinummonkey/backstage/pkg/contextkeys"
	"github.com/platinummonkey/backstage/pkg/rbac"
	"github.com/platinummonkey/backstage/pkg/storage/memory"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Log(ctx context.Context, event *audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *event)
	return nil
}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) last() audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

type apiEnv struct {
	manager *rbac.Manager
	router  *mux.Router
	audit   *recordingAudit
}

const adminPrincipal = "admin-1"

func newAPIEnv(t *testing.T, opts ...rbac.Option) *apiEnv {
	t.Helper()
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	backend := memory.New("tenant-1")
	for _, res := range []rbac.Resource{
		{ID: rbac.AdminResource, Name: "Role admin", Module: "admin"},
		{ID: "events.list", Name: "Events", Module: "events"},
		{ID: "budget.view", Name: "Budget", Module: "finance"},
	} {
		res := res
		require.NoError(t, backend.UpsertResource(ctx, &res))
	}

	rec := &recordingAudit{}
	cfg := rbac.DefaultConfig()
	cfg.TenantID = "tenant-1"
	cfg.AuditLogger = rec
	m := rbac.NewManager(backend, cfg, append([]rbac.Option{rbac.WithLogger(logger)}, opts...)...)
	require.NoError(t, m.Initialize(ctx))

	admin, err := m.Roles().GetRoleByName(ctx, rbac.SuperAdminRoleName)
	require.NoError(t, err)
	require.NoError(t, m.Roles().AssignRole(ctx, adminPrincipal, admin.ID))

	router := mux.NewRouter()
	m.RegisterRoutes(router)
	return &apiEnv{manager: m, router: router, audit: rec}
}

func (a *apiEnv) do(t *testing.T, method, path, principal string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req = req.WithContext(contextkeys.WithPrincipalID(req.Context(), principal))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]interface{}](t, rec)["error"].(string)
}

func TestHandlers_RoleLifecycle(t *testing.T) {
	a := newAPIEnv(t)

	rec := a.do(t, http.MethodPost, "/rbac/roles", adminPrincipal, map[string]interface{}{
		"name": "Planner", "hierarchy_level": 3, "role_type": "internal",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	role := decode[rbac.Role](t, rec)
	assert.Equal(t, "Planner", role.Name)

	created := a.audit.last()
	assert.Equal(t, audit.EventTypeRoleCreate, created.EventType)
	assert.Equal(t, audit.EventStatusSuccess, created.Status)
	assert.Equal(t, adminPrincipal, created.ActorID)
	assert.Equal(t, "tenant-1", created.TenantID)

	rec = a.do(t, http.MethodPatch, "/rbac/roles/"+string(role.ID), adminPrincipal, map[string]interface{}{"hierarchy_level": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 4, decode[rbac.Role](t, rec).HierarchyLevel)
	assert.NotNil(t, a.audit.last().Before)

	rec = a.do(t, http.MethodGet, "/rbac/roles", adminPrincipal, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]rbac.Role](t, rec), 2)

	rec = a.do(t, http.MethodDelete, "/rbac/roles/"+string(role.ID), adminPrincipal, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/rbac/roles/"+string(role.ID), adminPrincipal, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestHandlers_InvalidationFailureAfterCommit(t *testing.T) {
	inv := &recordingInvalidator{}
	a := newAPIEnv(t, rbac.WithInvalidator(inv))
	ctx := context.Background()
	role, err := a.manager.Roles().CreateRole(ctx, "Planner", 3, rbac.RoleTypeInternal)
	require.NoError(t, err)

	inv.mu.Lock()
	inv.err = errors.New("redis down")
	inv.mu.Unlock()

	rec := a.do(t, http.MethodPut, "/rbac/roles/"+string(role.ID)+"/grants/events.list/capability", adminPrincipal,
		map[string]interface{}{"capability": "edit", "value": true})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	var body struct {
		Error   string `json:"error"`
		Details struct {
			Committed bool                 `json:"committed"`
			Result    rbac.PermissionGrant `json:"result"`
		} `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "store_unavailable", body.Error)
	assert.True(t, body.Details.Committed)
	assert.True(t, body.Details.Result.CanEdit)

	stored, err := a.manager.Matrix().GetGrant(ctx, role.ID, "events.list")
	require.NoError(t, err)
	assert.True(t, stored.CanView)
	assert.True(t, stored.CanEdit)

	event := a.audit.last()
	assert.Equal(t, audit.EventStatusSuccess, event.Status)
	assert.Equal(t, "store_unavailable", event.ErrorKind)

	rec = a.do(t, http.MethodDelete, "/rbac/roles/"+string(role.ID), adminPrincipal, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Equal(t, "store_unavailable", errorCode(t, rec))
	_, err = a.manager.Roles().GetRole(ctx, role.ID)
	requireKind(t, rbac.KindNotFound, err)

	inv.mu.Lock()
	inv.err = nil
	inv.mu.Unlock()

	rec = a.do(t, http.MethodPost, "/rbac/roles", adminPrincipal, map[string]interface{}{
		"name": "Vendor", "hierarchy_level": 7, "role_type": "external",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandlers_ErrorMapping(t *testing.T) {
	a := newAPIEnv(t)
	admin, err := a.manager.Roles().GetRoleByName(context.Background(), rbac.SuperAdminRoleName)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"missing fields", http.MethodPost, "/rbac/roles", map[string]interface{}{"name": "x"}, http.StatusBadRequest, "bad_request"},
		{"level out of range", http.MethodPost, "/rbac/roles", map[string]interface{}{"name": "x", "hierarchy_level": 12, "role_type": "internal"}, http.StatusUnprocessableEntity, "invalid_level"},
		{"duplicate name", http.MethodPost, "/rbac/roles", map[string]interface{}{"name": rbac.SuperAdminRoleName, "hierarchy_level": 1, "role_type": "internal"}, http.StatusConflict, "duplicate_name"},
		{"rename system role", http.MethodPatch, "/rbac/roles/" + string(admin.ID), map[string]interface{}{"name": "Root"}, http.StatusForbidden, "system_role_immutable"},
		{"delete system role", http.MethodDelete, "/rbac/roles/" + string(admin.ID), nil, http.StatusForbidden, "system_role_protected"},
		{"lower system grant", http.MethodPut, "/rbac/roles/" + string(admin.ID) + "/grants/events.list/capability", map[string]interface{}{"capability": "view", "value": false}, http.StatusForbidden, "system_role_protected"},
		{"self reference", http.MethodPut, "/rbac/principals/bob/manager", map[string]interface{}{"manager_id": "bob"}, http.StatusUnprocessableEntity, "self_reference"},
		{"unknown field", http.MethodPatch, "/rbac/roles/" + string(admin.ID), map[string]interface{}{"colour": "red"}, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, adminPrincipal, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestHandlers_GrantsAndResolve(t *testing.T) {
	a := newAPIEnv(t)
	ctx := context.Background()
	role, err := a.manager.Roles().CreateRole(ctx, "Planner", 3, rbac.RoleTypeInternal)
	require.NoError(t, err)

	rec := a.do(t, http.MethodPut, "/rbac/roles/"+string(role.ID)+"/grants/events.list/capability", adminPrincipal,
		map[string]interface{}{"capability": "delete", "value": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	g := decode[rbac.PermissionGrant](t, rec)
	assert.True(t, g.CanView)
	assert.True(t, g.CanEdit)

	rec = a.do(t, http.MethodPut, "/rbac/roles/"+string(role.ID)+"/grants/events.list/scope", adminPrincipal,
		map[string]interface{}{"data_scope": "team"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/rbac/roles/"+string(role.ID)+"/grants/budget.view/scope", adminPrincipal,
		map[string]interface{}{"data_scope": "team"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "view_required", errorCode(t, rec))

	rec = a.do(t, http.MethodPost, "/rbac/principals/alice/roles", adminPrincipal, map[string]interface{}{"role_id": role.ID})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/rbac/resolve", adminPrincipal, map[string]interface{}{
		"principal_id": "alice", "resource_id": "events.list", "action": "edit",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[rbac.Decision](t, rec)
	assert.True(t, d.Allowed)
	assert.Equal(t, rbac.ScopeTeam, d.DataScope)

	rec = a.do(t, http.MethodGet, "/rbac/me/resolve?resource=budget.view&action=view", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[rbac.Decision](t, rec).Allowed)

	rec = a.do(t, http.MethodGet, "/rbac/me/roles", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]rbac.Role](t, rec), 1)
}

func TestHandlers_BulkUpsertPartialFailure(t *testing.T) {
	a := newAPIEnv(t)
	role, err := a.manager.Roles().CreateRole(context.Background(), "Planner", 3, rbac.RoleTypeInternal)
	require.NoError(t, err)

	rec := a.do(t, http.MethodPut, "/rbac/roles/"+string(role.ID)+"/grants", adminPrincipal, map[string]interface{}{
		"grants": []map[string]interface{}{
			{"resource_id": "events.list", "can_view": true},
			{"resource_id": "nope", "can_view": true},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "partial_failure", body["error"])
	details := body["details"].([]interface{})
	require.Len(t, details, 1)
	assert.Equal(t, "nope", details[0].(map[string]interface{})["resource_id"])

	assert.Equal(t, audit.EventStatusFailure, a.audit.last().Status)
	assert.Equal(t, "partial_failure", a.audit.last().ErrorKind)
}

func TestHandlers_AccessControl(t *testing.T) {
	a := newAPIEnv(t)

	rec := a.do(t, http.MethodGet, "/rbac/roles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/rbac/roles", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	denied := a.audit.last()
	assert.Equal(t, audit.EventTypeAccessDenied, denied.EventType)
	assert.Equal(t, audit.EventStatusDenied, denied.Status)
	assert.Equal(t, "mallory", denied.ActorID)

	// view on the admin resource admits reads but not writes
	ctx := context.Background()
	viewer, err := a.manager.Roles().CreateRole(ctx, "Auditor", 5, rbac.RoleTypeInternal)
	require.NoError(t, err)
	_, err = a.manager.Matrix().SetCapability(ctx, viewer.ID, rbac.AdminResource, rbac.CapabilityView, true)
	require.NoError(t, err)
	require.NoError(t, a.manager.Roles().AssignRole(ctx, "carol", viewer.ID))

	rec = a.do(t, http.MethodGet, "/rbac/roles", "carol", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodPost, "/rbac/roles", "carol", map[string]interface{}{
		"name": "Sneaky", "hierarchy_level": 0, "role_type": "internal",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/rbac/me/roles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_AnalyticsAndPresets(t *testing.T) {
	a := newAPIEnv(t)
	ctx := context.Background()
	role, err := a.manager.Roles().CreateRole(ctx, "Planner", 3, rbac.RoleTypeInternal)
	require.NoError(t, err)
	_, err = a.manager.Matrix().SetCapability(ctx, role.ID, "events.list", rbac.CapabilityEdit, true)
	require.NoError(t, err)

	rec := a.do(t, http.MethodPost, "/rbac/analytics/authority", adminPrincipal, map[string]interface{}{
		"role_ids": []string{string(role.ID)}, "modules": []string{"events"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode[rbac.AuthorityMatrix](t, rec)
	assert.Equal(t, 3, m.Modules["events"]["Planner"])

	rec = a.do(t, http.MethodPost, "/rbac/analytics/presets", adminPrincipal, map[string]interface{}{
		"name": "Events", "role_ids": []string{string(role.ID)}, "modules": []string{"events"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	preset := decode[rbac.Preset](t, rec)
	assert.Equal(t, adminPrincipal, preset.Owner)

	rec = a.do(t, http.MethodGet, "/rbac/analytics/presets", adminPrincipal, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]rbac.Preset](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/rbac/analytics/presets/"+preset.ID+"/matrix", adminPrincipal, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[rbac.AuthorityMatrix](t, rec).Modules["events"]["Planner"])

	rec = a.do(t, http.MethodDelete, "/rbac/analytics/presets/"+preset.ID, adminPrincipal, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlers_StatsAndAudit(t *testing.T) {
	a := newAPIEnv(t)

	rec := a.do(t, http.MethodGet, "/rbac/stats", adminPrincipal, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[rbac.Stats](t, rec)
	assert.Equal(t, 1, stats.Roles)
	assert.Equal(t, 1, stats.SystemRoles)
	assert.Equal(t, 3, stats.Resources)

	rec = a.do(t, http.MethodGet, "/rbac/audit", adminPrincipal, nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestCapabilityForMethod(t *testing.T) {
	assert.Equal(t, rbac.CapabilityView, rbac.CapabilityForMethod(http.MethodGet))
	assert.Equal(t, rbac.CapabilityView, rbac.CapabilityForMethod(http.MethodHead))
	assert.Equal(t, rbac.CapabilityEdit, rbac.CapabilityForMethod(http.MethodPost))
	assert.Equal(t, rbac.CapabilityEdit, rbac.CapabilityForMethod(http.MethodPatch))
	assert.Equal(t, rbac.CapabilityDelete, rbac.CapabilityForMethod(http.MethodDelete))
}

func TestPermissionMiddleware_StoresDecision(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.createRole(t, "Planner", 3)
	e.grant(t, role.ID, "events.list", rbac.CapabilityView)
	_, err := e.matrix.SetDataScope(ctx, role.ID, "events.list", rbac.ScopeTeam)
	require.NoError(t, err)
	require.NoError(t, e.roles.AssignRole(ctx, "alice", role.ID))

	var got rbac.Decision
	mw := rbac.NewPermissionMiddleware(e.resolver, nil, "tenant-1")
	handler := mw.Require("events.list", rbac.CapabilityView)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = rbac.DecisionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(contextkeys.WithPrincipalID(req.Context(), "alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.Allowed)
	assert.Equal(t, rbac.ScopeTeam, got.DataScope)

	e.backend.down.Store(true)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "an unreachable store fails closed")
}

package rbac

// ApplyCapability sets capability c on g and cascades to keep
// delete => edit => view. Raising pulls prerequisites up, lowering pulls
// dependents down.
func ApplyCapability(g PermissionGrant, c Capability, value bool) PermissionGrant {
	switch c {
	case CapabilityView:
		g.CanView = value
		if !value {
			g.CanEdit = false
			g.CanDelete = false
		}
	case CapabilityEdit:
		g.CanEdit = value
		if value {
			g.CanView = true
		} else {
			g.CanDelete = false
		}
	case CapabilityDelete:
		g.CanDelete = value
		if value {
			g.CanEdit = true
			g.CanView = true
		}
	}
	if !g.CanView {
		g.DataScope = ScopeSelf
	}
	return g
}

// ValidateGrant checks the implication invariant on a full grant row
func ValidateGrant(g PermissionGrant) error {
	if g.CanEdit && !g.CanView {
		return &Error{Kind: KindViewRequired, RoleID: g.RoleID, ResourceID: g.ResourceID}
	}
	if g.CanDelete && !g.CanEdit {
		return &Error{Kind: KindViewRequired, RoleID: g.RoleID, ResourceID: g.ResourceID}
	}
	if g.DataScope != "" && !g.DataScope.Valid() {
		return &Error{Kind: KindInvalid, RoleID: g.RoleID, ResourceID: g.ResourceID}
	}
	return nil
}

// normalizeGrant fills the scope and collapses it to self when view is off
func normalizeGrant(g PermissionGrant) PermissionGrant {
	if g.DataScope == "" || !g.CanView {
		g.DataScope = ScopeSelf
	}
	return g
}

// belowDefault reports whether g grants less than the system default d
func belowDefault(g, d PermissionGrant) bool {
	if d.CanView && !g.CanView {
		return true
	}
	if d.CanEdit && !g.CanEdit {
		return true
	}
	if d.CanDelete && !g.CanDelete {
		return true
	}
	if d.CanView && g.EffectiveScope().Narrower(d.EffectiveScope()) {
		return true
	}
	return false
}

package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"authix.org/internal/audit"
	"authix.org/internal/auth"
)

func actorID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func pathID(r *http.Request, key string) string {
	return strings.TrimSpace(mux.Vars(r)[key])
}

// decodeAndValidate reads the body into dst and runs the struct validator.
// It writes the 400 response itself and reports whether the handler should
// continue.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (a *API) auditEvent(r *http.Request, event string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["actor"] = actorID(r)
	_ = audit.LogEvent(r.Context(), event, fields)
}

// Users

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.rbac.ListUsers(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), actorID(r), auth.CreateUserInput{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Avatar:   req.Avatar,
		Bio:      req.Bio,
		RoleIDs:  req.RoleIDs,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.user.create", map[string]any{"user_id": user.ID, "username": user.Username, "role_ids": req.RoleIDs})
	w.Header().Set("Location", "/admin/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if err := a.rbac.CheckEditable(r.Context(), auth.EntityUser, id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req updateUserRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	user, err := a.rbac.UpdateUser(r.Context(), id, auth.UserUpdate{
		Username: req.Username,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Avatar:   req.Avatar,
		Bio:      req.Bio,
		IsActive: req.IsActive,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.user.update", map[string]any{"user_id": id})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if err := a.rbac.DeleteUser(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.user.delete", map[string]any{"user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	perms, err := a.rbac.UserPermissions(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      id,
		"permissions": perms,
	})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	assignment, err := a.rbac.AssignRole(r.Context(), actorID(r), req.UserID, req.RoleID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.role.assign", map[string]any{"user_id": req.UserID, "role_id": req.RoleID})
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleUnassignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID := pathID(r, "id"), pathID(r, "roleId")
	if err := a.rbac.UnassignRole(r.Context(), userID, roleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.role.unassign", map[string]any{"user_id": userID, "role_id": roleID})
	w.WriteHeader(http.StatusNoContent)
}

// Roles

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), actorID(r), auth.CreateRoleInput{
		Name:          req.Name,
		Description:   req.Description,
		Level:         req.Level,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.role.create", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": len(role.Permissions),
	})
	w.Header().Set("Location", "/admin/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if err := a.rbac.CheckEditable(r.Context(), auth.EntityRole, id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req updateRoleRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	role, err := a.rbac.UpdateRole(r.Context(), id, auth.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
		Level:       req.Level,
		IsActive:    req.IsActive,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.role.update", map[string]any{"role_id": id})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if err := a.rbac.DeleteRole(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.role.delete", map[string]any{"role_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if err := a.rbac.CheckEditable(r.Context(), auth.EntityRole, id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req setRolePermissionsRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.rbac.SetRolePermissions(r.Context(), actorID(r), id, req.PermissionIDs); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.role.permissions", map[string]any{
		"role_id":     id,
		"permissions": req.PermissionIDs,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Role permissions updated",
	})
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req assignPermissionRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	grant, err := a.rbac.GrantPermission(r.Context(), actorID(r), req.RoleID, req.PermissionID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.permission.grant", map[string]any{
		"role_id":       req.RoleID,
		"permission_id": req.PermissionID,
	})
	writeJSON(w, http.StatusCreated, grant)
}

// Permissions

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	perm, err := a.rbac.CreatePermission(r.Context(), auth.CreatePermissionInput{
		Name:        req.Name,
		Resource:    req.Resource,
		Action:      req.Action,
		Description: req.Description,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.permission.create", map[string]any{"permission_id": perm.ID, "name": perm.Name})
	w.Header().Set("Location", "/admin/permissions/"+perm.ID)
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if err := a.rbac.CheckEditable(r.Context(), auth.EntityPermission, id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req updatePermissionRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	perm, err := a.rbac.UpdatePermission(r.Context(), id, auth.PermissionUpdate{
		Resource:    req.Resource,
		Action:      req.Action,
		Description: req.Description,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.permission.update", map[string]any{"permission_id": id})
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if err := a.rbac.DeletePermission(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.auditEvent(r, "rbac.permission.delete", map[string]any{"permission_id": id})
	w.WriteHeader(http.StatusNoContent)
}

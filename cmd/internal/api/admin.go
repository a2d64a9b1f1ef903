package api

import (
	"net/http"

	"warden/cmd/identity"
	"warden/cmd/identity/ids"
	"warden/cmd/users"
)

// pathIDs reads ULID path values by name. A malformed value can never name a
// stored record, so it is answered with 404 before reaching the service.
func pathIDs(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	vals := make([]string, len(names))
	for i, name := range names {
		v := r.PathValue(name)
		if !ids.Valid(v) {
			writeError(w, http.StatusNotFound, "not_found", "resource not found")
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

func (h *Handler) handleUserGet(w http.ResponseWriter, r *http.Request) {
	pv, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	u, err := h.svc.Get(r.Context(), pv[0])
	if err != nil {
		h.writeServiceError(w, "api.users.get", err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

func (h *Handler) handleUserPatch(w http.ResponseWriter, r *http.Request) {
	pv, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	var req userPatchRequest
	if !h.bind(w, r, &req) {
		return
	}
	u, err := h.svc.Update(r.Context(), pv[0], users.UserUpdate[*identity.User]{
		Email:      req.Email,
		Password:   req.Password,
		IsActive:   req.IsActive,
		IsVerified: req.IsVerified,
	})
	if err != nil {
		h.writeServiceError(w, "api.users.update", err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

func (h *Handler) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	pv, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), pv[0]); err != nil {
		h.writeServiceError(w, "api.users.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRoleAssign(w http.ResponseWriter, r *http.Request) {
	pv, ok := pathIDs(w, r, "id", "roleID")
	if !ok {
		return
	}
	u, err := h.svc.AssignRole(r.Context(), pv[0], pv[1])
	if err != nil {
		h.writeServiceError(w, "api.roles.assign", err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

func (h *Handler) handleRoleRevoke(w http.ResponseWriter, r *http.Request) {
	pv, ok := pathIDs(w, r, "id", "roleID")
	if !ok {
		return
	}
	u, err := h.svc.RevokeRole(r.Context(), pv[0], pv[1])
	if err != nil {
		h.writeServiceError(w, "api.roles.revoke", err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

func (h *Handler) handleRoleCreate(w http.ResponseWriter, r *http.Request) {
	var req roleCreateRequest
	if !h.bind(w, r, &req) {
		return
	}
	role, err := h.svc.CreateRole(r.Context(), users.RoleCreate{Name: req.Name, Description: req.Description})
	if err != nil {
		h.writeServiceError(w, "api.roles.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, roleEnvelope{Role: toRoleResponse(role)})
}

func (h *Handler) handleRoleGet(w http.ResponseWriter, r *http.Request) {
	pv, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	role, err := h.svc.GetRole(r.Context(), pv[0])
	if err != nil {
		h.writeServiceError(w, "api.roles.get", err)
		return
	}
	writeJSON(w, http.StatusOK, roleEnvelope{Role: toRoleResponse(role)})
}

func (h *Handler) handleRolePatch(w http.ResponseWriter, r *http.Request) {
	pv, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	var req rolePatchRequest
	if !h.bind(w, r, &req) {
		return
	}
	role, err := h.svc.UpdateRole(r.Context(), pv[0], identity.RolePatch{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.writeServiceError(w, "api.roles.update", err)
		return
	}
	writeJSON(w, http.StatusOK, roleEnvelope{Role: toRoleResponse(role)})
}

func (h *Handler) handleRoleDelete(w http.ResponseWriter, r *http.Request) {
	pv, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteRole(r.Context(), pv[0]); err != nil {
		h.writeServiceError(w, "api.roles.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

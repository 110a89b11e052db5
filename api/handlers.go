package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"snap/mapping"
	"snap/storage"

	"github.com/gorilla/mux"
)

const healthPingTimeout = 2 * time.Second

// listUsers godoc
//
//	@Summary		List users
//	@Tags			users
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}		UserDTO
//	@Failure		401	{object}	ErrorResponse
//	@Failure		403	{object}	ErrorResponse
//	@Router			/api/users [get]
func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Users.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to list users", err, a.logger)
		return
	}

	values := make([]storage.User, 0, len(users))
	for _, u := range users {
		values = append(values, *u)
	}
	dtos, err := mapping.MapSlice[UserDTO](a.deps.Mapper, values)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to list users", err, a.logger)
		return
	}
	respondJSON(w, dtos, http.StatusOK, a.logger)
}

// listAbouts godoc
//
//	@Summary		List profiles
//	@Description	Members see their own profiles, administrators see all of them
//	@Tags			abouts
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}		AboutDTO
//	@Failure		401	{object}	ErrorResponse
//	@Router			/api/abouts [get]
func (a *API) listAbouts(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	owner := principal.UserID
	if principal.HasRole(storage.RoleAdmin) {
		owner = 0
	}
	abouts, err := a.deps.Abouts.ListAbouts(r.Context(), owner)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to list profiles", err, a.logger)
		return
	}

	values := make([]storage.About, 0, len(abouts))
	for _, ab := range abouts {
		values = append(values, *ab)
	}
	dtos, err := mapping.MapSlice[AboutDTO](a.deps.Mapper, values)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to list profiles", err, a.logger)
		return
	}
	respondJSON(w, dtos, http.StatusOK, a.logger)
}

// createAbout godoc
//
//	@Summary		Create profile
//	@Tags			abouts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			about	body		AboutRequest	true	"Profile"
//	@Success		201		{object}	AboutDTO
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Router			/api/abouts [post]
func (a *API) createAbout(w http.ResponseWriter, r *http.Request, req AboutRequest) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	about, err := mapping.Map[storage.About](a.deps.Mapper, req)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to create profile", err, a.logger)
		return
	}
	about.UserID = principal.UserID

	if err := a.deps.Abouts.CreateAbout(r.Context(), &about); err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to create profile", err, a.logger)
		return
	}

	dto, err := mapping.Map[AboutDTO](a.deps.Mapper, about)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to create profile", err, a.logger)
		return
	}
	w.Header().Set("Location", "/api/abouts/"+about.ID)
	respondJSON(w, dto, http.StatusCreated, a.logger)
}

// getAbout godoc
//
//	@Summary		Get profile
//	@Tags			abouts
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Profile ID"
//	@Success		200	{object}	AboutDTO
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/abouts/{id} [get]
func (a *API) getAbout(w http.ResponseWriter, r *http.Request) {
	about, ok := a.ownedAbout(w, r)
	if !ok {
		return
	}

	dto, err := mapping.Map[AboutDTO](a.deps.Mapper, *about)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to load profile", err, a.logger)
		return
	}
	respondJSON(w, dto, http.StatusOK, a.logger)
}

// deleteAbout godoc
//
//	@Summary		Delete profile
//	@Tags			abouts
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Profile ID"
//	@Success		204
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/abouts/{id} [delete]
func (a *API) deleteAbout(w http.ResponseWriter, r *http.Request) {
	about, ok := a.ownedAbout(w, r)
	if !ok {
		return
	}

	err := a.deps.Abouts.DeleteAbout(r.Context(), about.ID)
	if err != nil && !errors.Is(err, storage.ErrAboutNotFound) {
		writeError(w, r, http.StatusInternalServerError, "Failed to delete profile", err, a.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedAbout loads the profile named in the path. Profiles owned by someone else
// are reported as missing unless the caller is an administrator.
func (a *API) ownedAbout(w http.ResponseWriter, r *http.Request) (*storage.About, bool) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return nil, false
	}

	about, err := a.deps.Abouts.GetAbout(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrAboutNotFound) {
		writeError(w, r, http.StatusNotFound, "Profile not found", nil, a.logger)
		return nil, false
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to load profile", err, a.logger)
		return nil, false
	}
	if about.UserID != principal.UserID && !principal.HasRole(storage.RoleAdmin) {
		writeError(w, r, http.StatusNotFound, "Profile not found", nil, a.logger)
		return nil, false
	}
	return about, true
}

// healthCheck godoc
//
//	@Summary		Health check
//	@Description	Reports that the service is serving, with the outcome of each boot stage
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "serving", Boot: []StageStatus{}}
	if a.bootStatus != nil {
		resp.Boot = a.bootStatus()
	}
	if a.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		resp.Store = "reachable"
		if err := a.deps.Store.Ping(ctx); err != nil {
			a.logger.Warnw("Health check could not reach the store", "error", err)
			resp.Store = "unreachable"
		}
	}
	respondJSON(w, resp, http.StatusOK, a.logger)
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/anwado/backend/internal/database"
)

// HandleUpdatePushToken stores or clears the caller's device push token.
// An empty token clears it (logout / permission revoked).
func HandleUpdatePushToken(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			PushToken string `json:"push_token"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		if err := store.UpdatePushToken(r.Context(), userID, strings.TrimSpace(req.PushToken)); err != nil {
			internalError(w, "update push token", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

// HandleGetProfile returns the caller's own profile.
func HandleGetProfile(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		user, err := store.GetUser(r.Context(), userID)
		if err != nil {
			internalError(w, "load profile", err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// HandleUpdateProfile patches profile fields. Absent fields stay unchanged.
func HandleUpdateProfile(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			FullName *string `json:"full_name"`
			Address  *string `json:"address"`
			Locale   *string `json:"locale"`
			Timezone *string `json:"timezone"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.FullName == nil && req.Address == nil && req.Locale == nil && req.Timezone == nil {
			writeError(w, http.StatusBadRequest, "nothing to update")
			return
		}
		if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
			writeError(w, http.StatusBadRequest, "full_name must not be empty")
			return
		}
		if req.Locale != nil && *req.Locale != "de" && *req.Locale != "en" {
			writeError(w, http.StatusBadRequest, "locale must be de or en")
			return
		}

		user, err := store.UpdateProfile(r.Context(), userID, database.ProfileUpdate{
			FullName: req.FullName,
			Address:  req.Address,
			Locale:   req.Locale,
			Timezone: req.Timezone,
		})
		if err != nil {
			internalError(w, "update profile", err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

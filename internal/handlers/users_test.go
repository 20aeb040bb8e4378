package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anwado/backend/internal/database"
)

func TestUpdatePushTokenEndpoint(t *testing.T) {
	store := newMemStore()
	user := store.addUser("user-1", "max@example.com", "Max Mustermann")
	h := HandleUpdatePushToken(store)

	rec := serve(h, jsonRequest(t, "user-1", http.MethodPut, "/api/v1/users/push-token",
		map[string]string{"push_token": "  ExponentPushToken[abc123]  "}))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "updated", body["status"])
	require.NotNil(t, user.PushToken)
	assert.Equal(t, "ExponentPushToken[abc123]", *user.PushToken, "token is stored trimmed")

	// An empty token clears the registration.
	rec = serve(h, jsonRequest(t, "user-1", http.MethodPut, "/api/v1/users/push-token",
		map[string]string{"push_token": ""}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, user.PushToken)
}

func TestGetProfileEndpoint(t *testing.T) {
	store := newMemStore()
	user := store.addUser("user-1", "max@example.com", "Max Mustermann")
	user.HashedPassword = "$2a$10$geheimer-hash"
	token := "ExponentPushToken[abc123]"
	user.PushToken = &token
	h := HandleGetProfile(store)

	rec := serve(h, jsonRequest(t, "user-1", http.MethodGet, "/api/v1/users/profile", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got database.User
	decodeJSON(t, rec, &got)
	assert.Equal(t, "max@example.com", got.Email)
	assert.Equal(t, "Max Mustermann", got.FullName)
	assert.Equal(t, "de", got.Locale)

	// Credentials never leave the server.
	assert.NotContains(t, rec.Body.String(), "geheimer-hash")
	assert.NotContains(t, rec.Body.String(), "ExponentPushToken")
}

func TestUpdateProfileEndpoint(t *testing.T) {
	store := newMemStore()
	user := store.addUser("user-1", "max@example.com", "Max Mustermann")
	tz := "Europe/Berlin"
	user.Timezone = &tz
	h := HandleUpdateProfile(store)

	rec := serve(h, jsonRequest(t, "user-1", http.MethodPatch, "/api/v1/users/profile", map[string]string{
		"full_name": "Maximilian Mustermann",
		"locale":    "en",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	var got database.User
	decodeJSON(t, rec, &got)
	assert.Equal(t, "Maximilian Mustermann", got.FullName)
	assert.Equal(t, "en", got.Locale)
	require.NotNil(t, got.Timezone)
	assert.Equal(t, "Europe/Berlin", *got.Timezone, "absent fields stay unchanged")
}

func TestUpdateProfileValidation(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1", "max@example.com", "Max Mustermann")
	h := HandleUpdateProfile(store)

	rec := serve(h, jsonRequest(t, "user-1", http.MethodPatch, "/api/v1/users/profile",
		map[string]string{}))
	assertError(t, rec, http.StatusBadRequest, "nothing to update")

	rec = serve(h, jsonRequest(t, "user-1", http.MethodPatch, "/api/v1/users/profile",
		map[string]string{"full_name": "   "}))
	assertError(t, rec, http.StatusBadRequest, "full_name must not be empty")

	rec = serve(h, jsonRequest(t, "user-1", http.MethodPatch, "/api/v1/users/profile",
		map[string]string{"locale": "fr"}))
	assertError(t, rec, http.StatusBadRequest, "locale must be de or en")
}

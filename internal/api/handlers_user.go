package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vitalsync/internal/models"
	"github.com/vitalsync/internal/types"
)

// handleCreateUser handles POST /api/users - Create a new user
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string         `json:"email"`
		Tier  types.UserTier `json:"tier"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.Email == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Email is required", nil)
		return
	}

	// Default to free tier if not specified
	if req.Tier == "" {
		req.Tier = types.TierFree
	}

	if req.Tier != types.TierFree && req.Tier != types.TierPaid {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid tier (must be 'free' or 'paid')", nil)
		return
	}

	user := &models.User{
		Email: req.Email,
		Tier:  req.Tier,
	}

	if err := s.userService.Create(r.Context(), user); err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// handleGetUser handles GET /api/users/:id - Get user by ID
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID required", nil)
		return
	}

	user, err := s.userService.GetByID(r.Context(), userID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// handleSetUserToken handles PUT /api/users/:id/token - Store an upstream
// access token. The token is encrypted before it reaches storage.
func (s *Server) handleSetUserToken(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID required", nil)
		return
	}

	var req struct {
		AccessToken string `json:"accessToken"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.AccessToken == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Access token is required", nil)
		return
	}

	encrypted, err := s.vault.Encrypt(req.AccessToken)
	if err != nil {
		respondWithError(w, err)
		return
	}

	if err := s.userService.SetAccessToken(r.Context(), userID, encrypted); err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"userId": userID,
		"status": "token stored",
	})
}

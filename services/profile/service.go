// Package profile serves the signed-in user's account.
package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
	"github.com/omniplex-ai/omniplex/internal/middleware"
)

type Service struct {
	store  storage.Store
	logger *logging.Logger
}

func New(store storage.Store, logger *logging.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) RegisterRoutes(router *mux.Router, requireAuth func(http.Handler) http.Handler) {
	router.Handle("/api/profile", requireAuth(http.HandlerFunc(s.handleGet))).Methods(http.MethodGet)
	router.Handle("/api/profile", requireAuth(http.HandlerFunc(s.handleDelete))).Methods(http.MethodDelete)
}

// Get returns the stored profile refreshed with identity from the token.
// The Pro flag always comes from storage.
func (s *Service) Get(ctx context.Context, userID string, claims *middleware.Claims) (chat.Profile, error) {
	identity := chat.Profile{UserID: userID}
	if claims != nil {
		identity.Name = claims.DisplayName()
		identity.Email = claims.Email
		identity.ProfilePic = claims.AvatarURL()
	}

	if identity.Name == "" && identity.Email == "" && identity.ProfilePic == "" {
		stored, err := s.store.GetProfile(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return identity, nil
		}
		if err != nil {
			return chat.Profile{}, fmt.Errorf("get profile: %w", err)
		}
		return stored, nil
	}

	stored, err := s.store.UpsertProfile(ctx, identity)
	if err != nil {
		return chat.Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return stored, nil
}

// Delete removes every thread, index entry and the profile of userID.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.store.DeleteUserData(ctx, userID); err != nil {
		return fmt.Errorf("delete user data: %w", err)
	}
	return nil
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	profile, err := s.Get(r.Context(), userID, middleware.GetClaims(r.Context()))
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("load profile failed")
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := s.Delete(r.Context(), userID); err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("delete account failed")
		httputil.WriteError(w, r, err)
		return
	}
	s.logger.LogSecurityEvent(r.Context(), "account_deleted", map[string]interface{}{"user_id": userID})
	w.WriteHeader(http.StatusNoContent)
}

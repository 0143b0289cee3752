package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"teamhub/internal/common"
	"teamhub/internal/model"
	"teamhub/internal/service"
	"teamhub/internal/util"
)

type contextKey string

const sessionContextKey contextKey = "session"

// AuthHandler exposes the authentication flows over HTTP.
type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/register/complete", h.CompleteRegistration)
		r.Post("/signin", h.SignIn)
		r.Post("/signin/complete", h.CompleteSignIn)
		r.Post("/signin/2fa", h.CompleteTwoFaChallenge)
		r.Post("/anonymous", h.IssueAnonymousToken)
	})

	router.Route("/me", func(r chi.Router) {
		r.Use(h.SessionMiddleware)

		r.Get("/", h.GetMe)
		r.Put("/", h.UpdateMyProfile)
		r.Post("/disable", h.DisableAccount)

		r.Post("/2fa/setup", h.SetupTwoFa)
		r.Post("/2fa/confirm", h.CompleteTwoFaSetup)
		r.Post("/2fa/disable", h.DisableTwoFa)

		r.Post("/email/change", h.RequestEmailChange)
		r.Post("/email/verify", h.VerifyEmail)

		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions/revoke", h.RevokeSession)
		r.Post("/sessions/revoke-others", h.RevokeOtherSessions)
	})
}

// SessionMiddleware authenticates the bearer token and stores the session on
// the request context.
func (h *AuthHandler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := bearerToken(r)
		if bearer == "" {
			h.respondWithError(w, http.StatusUnauthorized, common.ErrInvalidToken, "Missing bearer token")
			return
		}

		session, err := h.authService.ValidateSessionToken(r.Context(), bearer)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, common.ErrInvalidToken, "Invalid or revoked token")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// -------------------- PUBLIC FLOWS --------------------

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	pending, err := h.authService.Register(r.Context(), input)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to start registration")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, successResponse(pending, "Verification code sent"))
}

func (h *AuthHandler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	var input service.CompleteRegistrationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	registered, err := h.authService.CompleteRegistration(r.Context(), input)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to complete registration")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(map[string]interface{}{
		"me":    registered.Me,
		"token": registered.Token,
	}, "Account created"))
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var input service.SignInInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	pending, err := h.authService.SignIn(r.Context(), input)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to start sign-in")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, successResponse(pending, "Sign-in code sent"))
}

func (h *AuthHandler) CompleteSignIn(w http.ResponseWriter, r *http.Request) {
	var input service.CompleteSignInInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	signedIn, err := h.authService.CompleteSignIn(r.Context(), input)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to complete sign-in")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(signedInPayload(signedIn), "Signed in"))
}

func (h *AuthHandler) CompleteTwoFaChallenge(w http.ResponseWriter, r *http.Request) {
	var input service.CompleteTwoFaChallengeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	signedIn, err := h.authService.CompleteTwoFaChallenge(r.Context(), input)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to complete challenge")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(signedInPayload(signedIn), "Signed in"))
}

func (h *AuthHandler) IssueAnonymousToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.authService.IssueAnonymousToken(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to issue token")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(map[string]string{
		"token": token,
	}, "Anonymous token issued"))
}

func signedInPayload(signedIn *service.SignedIn) map[string]interface{} {
	if signedIn.TwoFa {
		return map[string]interface{}{"two_fa": true}
	}
	return map[string]interface{}{
		"two_fa": false,
		"me":     signedIn.Me,
		"token":  signedIn.Token,
	}
}

// -------------------- AUTHENTICATED --------------------

func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	me, err := h.authService.GetMe(r.Context(), session.UserID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to load account")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(me, "Account loaded"))
}

func (h *AuthHandler) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	var input service.UpdateProfileInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	me, err := h.authService.UpdateMyProfile(r.Context(), session.UserID, input)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to update profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(me, "Profile updated"))
}

func (h *AuthHandler) DisableAccount(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	if err := h.authService.DisableAccount(r.Context(), session.UserID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to disable account")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Account disabled"))
}

func (h *AuthHandler) SetupTwoFa(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	setup, err := h.authService.SetupTwoFa(r.Context(), session.UserID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to start 2FA setup")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(setup, "Scan the secret, then confirm with a code"))
}

func (h *AuthHandler) CompleteTwoFaSetup(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	var input struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.authService.CompleteTwoFaSetup(r.Context(), session.UserID, session.ID, input.Code); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to confirm 2FA")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "2FA enabled"))
}

func (h *AuthHandler) DisableTwoFa(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	var input struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.authService.DisableTwoFa(r.Context(), session.UserID, session.ID, input.Code); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to disable 2FA")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "2FA disabled"))
}

func (h *AuthHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	var input service.RequestEmailChangeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	pending, err := h.authService.RequestEmailChange(r.Context(), session.UserID, input)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to start email change")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, successResponse(pending, "Verification code sent to new address"))
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	var input service.VerifyEmailInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	me, err := h.authService.VerifyEmail(r.Context(), session.UserID, session.ID, input)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to verify email")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(me, "Email updated"))
}

func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	sessions, err := h.authService.ListSessions(r.Context(), session.UserID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list sessions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(sessions, "Sessions listed"))
}

func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	var input service.RevokeSessionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.authService.RevokeSession(r.Context(), session.UserID, input); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Session revoked"))
}

func (h *AuthHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	if err := h.authService.RevokeOtherSessions(r.Context(), session.UserID, session.ID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke sessions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Other sessions revoked"))
}

// -------------------- HELPERS --------------------

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidOrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, common.ErrEmailTaken), errors.Is(err, common.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, common.ErrTwoFaAlreadyEnabled), errors.Is(err, common.ErrTwoFaNotEnabled):
		return http.StatusConflict
	case errors.Is(err, common.ErrTwoFaMismatch), errors.Is(err, common.ErrTwoFaRequired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrInvalidEmail), errors.Is(err, common.ErrInvalidUsername), errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

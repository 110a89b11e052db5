package api

import (
	"errors"
	"net/http"
	"time"

	"snap/dispatch"
	"snap/mapping"
	"snap/storage"

	"golang.org/x/time/rate"
)

const (
	defaultLoginPerMinute = 10
	defaultLoginBurst     = 5
	limiterIdleTimeout    = time.Hour
	limiterPruneThreshold = 1024
)

// register godoc
//
//	@Summary		Register account
//	@Description	Creates a member account and sends a welcome mail
//	@Tags			accounts
//	@Accept			json
//	@Produce		json
//	@Param			account	body		RegisterRequest	true	"New account"
//	@Success		201		{object}	UserDTO
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/accounts/register [post]
func (a *API) register(w http.ResponseWriter, r *http.Request, req RegisterRequest) {
	res, err := dispatch.Send[RegisterAccountResult](r.Context(), a.deps.Dispatcher, RegisterAccountCommand{Request: req})
	if errors.Is(err, storage.ErrUserExists) {
		writeError(w, r, http.StatusConflict, "Username is already taken", err, a.logger)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to register account", err, a.logger)
		return
	}

	dto, err := mapping.Map[UserDTO](a.deps.Mapper, *res.User)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to register account", err, a.logger)
		return
	}
	respondJSON(w, dto, http.StatusCreated, a.logger)
}

// login godoc
//
//	@Summary		Authenticate user
//	@Description	Exchanges a username and password for a bearer token
//	@Tags			accounts
//	@Accept			json
//	@Produce		json
//	@Param			credentials	body		LoginRequest	true	"Login credentials"
//	@Success		200			{object}	LoginResponse
//	@Failure		400			{object}	ValidationErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		429			{object}	ErrorResponse
//	@Router			/api/accounts/login [post]
func (a *API) login(w http.ResponseWriter, r *http.Request, req LoginRequest) {
	ip := getRealIP(r, a.deps.Config.API.TrustProxy)
	if !a.loginLimiter(ip).Allow() {
		a.logger.Warnw("Login rate limit exceeded", "ip", ip)
		writeError(w, r, http.StatusTooManyRequests, "Too many login attempts", nil, a.logger)
		return
	}

	user, err := a.deps.Users.ValidateCredentials(r.Context(), req.Username, req.Password)
	if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserInactive) {
		a.logger.Infow("Failed login attempt", "username", req.Username, "ip", ip)
		writeError(w, r, http.StatusUnauthorized, "Invalid username or password", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Authentication failed", err, a.logger)
		return
	}

	token, expiresAt, err := a.deps.Tokens.Issue(user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Authentication failed", err, a.logger)
		return
	}

	if err := a.deps.Users.RecordLogin(r.Context(), user.Username, time.Now()); err != nil {
		a.logger.Warnw("Failed to record login", "username", user.Username, "error", err)
	}

	respondJSON(w, LoginResponse{
		Token:              token,
		ExpiresAt:          expiresAt,
		MustChangePassword: user.MustChangePassword,
	}, http.StatusOK, a.logger)
}

// loginLimiter returns the limiter for ip, pruning idle entries once the table grows
func (a *API) loginLimiter(ip string) *rate.Limiter {
	a.loginLimitersMu.Lock()
	defer a.loginLimitersMu.Unlock()

	now := time.Now()
	if len(a.loginLimiters) >= limiterPruneThreshold {
		for key, entry := range a.loginLimiters {
			if now.Sub(entry.lastSeen) > limiterIdleTimeout {
				delete(a.loginLimiters, key)
			}
		}
	}

	entry, exists := a.loginLimiters[ip]
	if !exists {
		cfg := a.deps.Config.Auth.LoginLimit
		perMinute, burst := cfg.RequestsPerMinute, cfg.Burst
		if perMinute <= 0 {
			perMinute = defaultLoginPerMinute
		}
		if burst <= 0 {
			burst = defaultLoginBurst
		}
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		}
		a.loginLimiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// me godoc
//
//	@Summary		Current account
//	@Tags			accounts
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	UserDTO
//	@Failure		401	{object}	ErrorResponse
//	@Router			/api/accounts/me [get]
func (a *API) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	user, err := a.deps.Users.GetUserByUsername(r.Context(), principal.Username)
	if errors.Is(err, storage.ErrUserNotFound) {
		writeError(w, r, http.StatusNotFound, "Account not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to load account", err, a.logger)
		return
	}

	dto, err := mapping.Map[UserDTO](a.deps.Mapper, *user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to load account", err, a.logger)
		return
	}
	respondJSON(w, dto, http.StatusOK, a.logger)
}

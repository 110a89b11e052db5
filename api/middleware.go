package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"snap/config"
	"snap/metrics"
	"snap/storage"
	"snap/util"
	"snap/util/goroutine"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 64
	swaggerPrefix   = "/swagger/"
)

// statusWriter remembers the status code written by downstream handlers
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// translateErrors assigns the request ID and turns panics from every later stage
// into a generic 500 response
func (a *API) translateErrors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)
		r = r.WithContext(WithRequestID(r.Context(), requestID))

		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			metrics.HTTPPanics.Inc()
			a.logger.Errorw("Unhandled panic while serving request",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestID,
				"panic", util.SanitizeString(fmt.Sprint(rec)),
				"stack", goroutine.Stack())
			if sw.status != 0 {
				return
			}
			writeError(sw, r, http.StatusInternalServerError, "An unexpected error occurred", nil, nil)
		}()

		next.ServeHTTP(sw, r)
	})
}

var exceptionPageTemplate = template.Must(template.New("exception").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Unhandled exception</title></head>
<body>
<h1>An unhandled exception occurred while processing the request.</h1>
<p><strong>{{.Method}} {{.Path}}</strong> (request {{.RequestID}})</p>
<h2>{{.Panic}}</h2>
<pre>{{.Stack}}</pre>
</body>
</html>
`))

type exceptionDetails struct {
	Method    string
	Path      string
	RequestID string
	Panic     string
	Stack     string
}

// exceptionPage renders a diagnostic page for panics. Development only.
func (a *API) exceptionPage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler || sw.status != 0 {
				panic(rec)
			}
			metrics.HTTPPanics.Inc()

			requestID, _ := GetRequestID(r.Context())
			details := exceptionDetails{
				Method:    r.Method,
				Path:      r.URL.Path,
				RequestID: requestID,
				Panic:     util.SanitizeString(fmt.Sprint(rec)),
				Stack:     goroutine.Stack(),
			}
			a.logger.Errorw("Unhandled panic while serving request",
				"method", details.Method,
				"path", details.Path,
				"request_id", requestID,
				"panic", details.Panic,
				"stack", details.Stack)

			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			if err := exceptionPageTemplate.Execute(w, details); err != nil {
				a.logger.Warnw("Failed to render exception page", "error", err)
			}
		}()

		next.ServeHTTP(sw, r)
	})
}

// documentation serves the Swagger UI and document under /swagger/. Development only.
func (a *API) documentation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == strings.TrimSuffix(swaggerPrefix, "/"):
			http.Redirect(w, r, swaggerPrefix+"index.html", http.StatusMovedPermanently)
		case strings.HasPrefix(r.URL.Path, swaggerPrefix):
			a.deps.Docs.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// transportSecurity redirects plain HTTP to the HTTPS port when one is configured
// and sets HSTS on secure responses outside development
func (a *API) transportSecurity(profile config.Profile) func(http.Handler) http.Handler {
	cfg := a.deps.Config.API
	hsts := ""
	if !profile.IsDevelopment() && cfg.HSTSMaxAge > 0 {
		hsts = fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secure := r.TLS != nil ||
				(cfg.TrustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"))

			if !secure && cfg.HTTPSPort > 0 {
				http.Redirect(w, r, httpsURL(r, cfg.HTTPSPort), http.StatusPermanentRedirect)
				return
			}
			if secure && hsts != "" {
				w.Header().Set("Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func httpsURL(r *http.Request, port int) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if port != 443 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return "https://" + host + r.URL.RequestURI()
}

// authenticate turns a bearer token into a Principal. Requests without usable
// credentials pass through anonymously and authorization decides whether that
// is enough; a stale token must not lock a client out of logging in again.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present := extractBearerToken(r)
		if !present {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.principalFromToken(token)
		if err != nil {
			a.logger.Debugw("Ignoring unusable credentials",
				"path", r.URL.Path,
				"error", err)
			next.ServeHTTP(w, r.WithContext(withRejectedToken(r.Context(), err)))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (a *API) principalFromToken(token string) (*Principal, error) {
	if token == "" {
		return nil, errors.New("authorization header is not a bearer token")
	}
	claims, err := a.deps.Tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	return claims.Principal()
}

// routePolicy is the access rule for one named route
type routePolicy struct {
	anonymous  bool
	permission storage.Permission
}

var routePolicies = map[string]routePolicy{
	RouteRegister:    {anonymous: true},
	RouteLogin:       {anonymous: true},
	RouteHealth:      {anonymous: true},
	RouteMetrics:     {anonymous: true},
	RouteMe:          {permission: storage.PermReadProfile},
	RouteListUsers:   {permission: storage.PermReadUsers},
	RouteListAbouts:  {permission: storage.PermReadAbouts},
	RouteCreateAbout: {permission: storage.PermWriteAbouts},
	RouteGetAbout:    {permission: storage.PermReadAbouts},
	RouteDeleteAbout: {permission: storage.PermWriteAbouts},
}

// authorize applies the policy of the route the request will be dispatched to.
// Unmatched requests go on to the router for its 404/405 handling; a matched
// route without a policy is refused.
func (a *API) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var match mux.RouteMatch
		if !a.router.Match(r, &match) || match.Route == nil {
			next.ServeHTTP(w, r)
			return
		}

		name := match.Route.GetName()
		policy, ok := routePolicies[name]
		if !ok {
			a.logger.Warnw("Route has no authorization policy", "route", name, "path", r.URL.Path)
			writeError(w, r, http.StatusForbidden, "Access denied", nil, a.logger)
			return
		}
		if policy.anonymous {
			next.ServeHTTP(w, r)
			return
		}

		principal, ok := GetPrincipal(r.Context())
		if !ok {
			if err := rejectedToken(r.Context()); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="snap", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "Invalid or expired token", err, a.logger)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="snap"`)
			writeError(w, r, http.StatusUnauthorized, "Authentication required", nil, a.logger)
			return
		}

		allowed, err := a.permitted(r.Context(), principal, policy.permission)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "Permission check failed", err, a.logger)
			return
		}
		if !allowed {
			a.logger.Warnw("Permission denied",
				"username", principal.Username,
				"permission", policy.permission,
				"route", name)
			writeError(w, r, http.StatusForbidden, "Insufficient permissions", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) permitted(ctx context.Context, p *Principal, perm storage.Permission) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	for _, name := range p.Roles {
		role, err := a.deps.Roles.GetRoleByName(ctx, name)
		if errors.Is(err, storage.ErrRoleNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if role.HasPermission(perm) {
			return true, nil
		}
	}
	return false, nil
}

// requestMetricsMiddleware counts requests by route template and status class
func (a *API) requestMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%dxx", sw.code()/100)).Inc()
	})
}

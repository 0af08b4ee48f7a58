package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/store"
)

type authContextKey struct{}

type authInfo struct {
	Session store.Session
	OPDs    []string
}

// AuthMiddleware resolves the session and the actor's OPD grants once
// per request. Admin sessions carry no OPD restriction.
func AuthMiddleware(queueStore store.QueueStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := queueStore.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		var opds []string
		if session.Role != "admin" {
			opds, err = queueStore.GetOPDAccess(r.Context(), session.UserID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal_error", "access lookup failed")
				return
			}
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authInfo{Session: session, OPDs: opds})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return store.Session{}, false
	}
	info, ok := value.(authInfo)
	if !ok {
		return store.Session{}, false
	}
	return info.Session, true
}

func allowedOPDs(r *http.Request) []string {
	value := r.Context().Value(authContextKey{})
	if value == nil {
		return nil
	}
	info, ok := value.(authInfo)
	if !ok {
		return nil
	}
	return info.OPDs
}

func requireRole(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return false
	}
	for _, role := range roles {
		if session.Role == role {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "access_denied", "role not permitted")
	return false
}

func requireOPDAccess(w http.ResponseWriter, r *http.Request, opdCode string) bool {
	grants := allowedOPDs(r)
	if len(grants) == 0 {
		return true
	}
	for _, code := range grants {
		if code == opdCode {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "access_denied", "opd access denied")
	return false
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// Display boards and the OPD directory are meant for unauthenticated
// screens in the waiting area.
func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics", "/api/opds":
		return true
	default:
		if strings.HasPrefix(r.URL.Path, "/api/display/") {
			return true
		}
		return r.Method == http.MethodOptions
	}
}

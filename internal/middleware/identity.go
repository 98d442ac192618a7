package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/saashqdev/delightful-im/internal/models"
)

// Identity headers set by the trusted gateway in front of this service.
const (
	HeaderUserID       = "X-Delightful-User-Id"
	HeaderUserType     = "X-Delightful-User-Type"
	HeaderOrganization = "X-Delightful-Org"
)

type ctxKey int

const identityKey ctxKey = iota

// WithIdentity returns ctx carrying the caller identity.
func WithIdentity(ctx context.Context, ref models.ObjectRef) context.Context {
	return context.WithValue(ctx, identityKey, ref)
}

// IdentityFrom returns the caller identity stored by Identity.
func IdentityFrom(ctx context.Context) (models.ObjectRef, bool) {
	ref, ok := ctx.Value(identityKey).(models.ObjectRef)
	return ref, ok
}

// Identity reads the caller from the gateway headers. Browsers cannot set
// headers on a websocket handshake, so upgrades may pass user_id, user_type
// and org as query parameters instead.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		typ := strings.TrimSpace(r.Header.Get(HeaderUserType))
		org := strings.TrimSpace(r.Header.Get(HeaderOrganization))
		if id == "" && websocket.IsWebSocketUpgrade(r) {
			q := r.URL.Query()
			id, typ, org = q.Get("user_id"), q.Get("user_type"), q.Get("org")
		}
		if id == "" {
			reject(w, http.StatusUnauthorized, "missing "+HeaderUserID)
			return
		}

		ref := models.ObjectRef{ID: id, Type: models.ObjectType(strings.ToLower(typ)), OrganizationCode: org}
		if ref.Type == "" {
			ref.Type = models.ObjectTypeUser
		}
		if !ref.Type.Valid() || ref.Type == models.ObjectTypeGroup {
			reject(w, http.StatusBadRequest, "invalid "+HeaderUserType)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ref)))
	})
}

func reject(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}

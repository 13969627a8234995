package middleware

import (
	"net/http"
	"strings"

	"github.com/hostelsync/hostelsync-backend/api/responses"
	pkgAuth "github.com/hostelsync/hostelsync-backend/pkg/auth"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
	pkgerrors "github.com/hostelsync/hostelsync-backend/pkg/errors"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

// accessTokenQueryParam carries the token on websocket upgrades, where browsers
// cannot set an Authorization header.
const accessTokenQueryParam = "access_token"

// IngestAuth binds ingest requests to the identity of a device token. When
// required is false a missing token is allowed, but a supplied token must
// still verify.
func IngestAuth(cfg config.JWTConfig, required bool, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if required {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			identity := claims.SubjectIdentity()
			ctx := WithIdentity(r.Context(), identity)
			if logg != nil {
				ctx = logg.WithField(ctx, "token_identity", identity)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			raw = strings.TrimSpace(raw[7:])
		}
		return raw
	}
	return strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParam))
}

package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hostelsync/hostelsync-backend/api/middleware"
	"github.com/hostelsync/hostelsync-backend/api/responses"
	"github.com/hostelsync/hostelsync-backend/api/validators"
	"github.com/hostelsync/hostelsync-backend/internal/locations"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	pkgerrors "github.com/hostelsync/hostelsync-backend/pkg/errors"
	"github.com/hostelsync/hostelsync-backend/pkg/geo"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

const (
	msgLocationSaved  = "Location saved successfully"
	maxIdentityLength = 254
	identityPathParam = "username"
)

// locationReport is the body of POST /location and of every stream frame.
// Extra keys such as a client timestamp are ignored; the server stamps samples.
type locationReport struct {
	Username  *string  `json:"username" validate:"omitempty,max=254"`
	Email     *string  `json:"email" validate:"omitempty,max=254"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
}

type nearbyUser struct {
	Username string `json:"username"`
}

type nearbyUsersResponse struct {
	NearbyUsers []nearbyUser `json:"nearbyUsers"`
}

type lastLocationResponse struct {
	Username  string    `json:"username"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// toSample converts the report and binds it to the token identity when the
// request carried one.
func (r locationReport) toSample(ctx context.Context, logg *logger.Logger, channel enums.IngestChannel) locations.Sample {
	sample := locations.Sample{
		Username:  r.Username,
		Email:     r.Email,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Channel:   channel,
	}

	bound := middleware.IdentityFromContext(ctx)
	if bound == "" {
		return sample
	}
	if asserted := sample.Identity(); asserted != "" && !strings.EqualFold(asserted, bound) && logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"asserted_identity": asserted,
			"token_identity":    bound,
		}), "ingest.identity_overridden")
	}
	identity := bound
	sample.Username = &identity
	return sample
}

// PostLocation stores one location report through the shared ingest path.
func PostLocation(svc locations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "locations service unavailable"))
			return
		}

		var body locationReport
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Ingest(ctx, body.toSample(ctx, logg, enums.IngestChannelHTTP)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteMessage(w, http.StatusCreated, msgLocationSaved)
	}
}

// NearbyUsers lists identities whose last position lies beyond the configured fence.
func NearbyUsers(svc locations.Service, fence config.GeofenceConfig, logg *logger.Logger) http.HandlerFunc {
	ref := geo.Point{Lat: fence.ReferenceLat, Lng: fence.ReferenceLng}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "locations service unavailable"))
			return
		}

		far, err := svc.ListUsersBeyondRadius(ctx, ref, fence.RadiusMeters)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := nearbyUsersResponse{NearbyUsers: make([]nearbyUser, 0, len(far))}
		for _, u := range far {
			resp.NearbyUsers = append(resp.NearbyUsers, nearbyUser{Username: u.Identity})
		}
		responses.WriteJSON(w, http.StatusOK, resp)
	}
}

// LastLocation returns the most recent position for the identity in the path.
func LastLocation(svc locations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "locations service unavailable"))
			return
		}

		identity := validators.SanitizeString(chi.URLParam(r, identityPathParam), maxIdentityLength)
		if identity == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, locations.MsgIdentityRequired))
			return
		}

		pos, err := svc.GetLastKnownPosition(ctx, identity)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, lastLocationResponse{
			Username:  pos.Identity,
			Latitude:  pos.Latitude,
			Longitude: pos.Longitude,
			Timestamp: pos.SampledAt,
		})
	}
}

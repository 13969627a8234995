package locations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/hostelsync/hostelsync-backend/internal/geofence"
	"github.com/hostelsync/hostelsync-backend/pkg/db/models"
	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	pkgerrors "github.com/hostelsync/hostelsync-backend/pkg/errors"
	"github.com/hostelsync/hostelsync-backend/pkg/geo"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
	"github.com/hostelsync/hostelsync-backend/pkg/metrics"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox/payloads"
	"github.com/hostelsync/hostelsync-backend/pkg/types"
)

const (
	MsgCoordinatesRequired = "Latitude and longitude are required"
	MsgIdentityRequired    = "Username or email is required"
	MsgIncompleteCoords    = "Incomplete coordinates data for user"

	defaultBatchSize = 500
)

// NotFoundMessage is the public message for an identity with no stored position.
func NotFoundMessage(identity string) string {
	return fmt.Sprintf("No location data found for user: %s", identity)
}

// Sample is one inbound location report. Pointer fields distinguish absent from zero.
type Sample struct {
	Username  *string
	Email     *string
	Latitude  *float64
	Longitude *float64
	Channel   enums.IngestChannel
}

// Identity prefers the username and falls back to the email.
func (s Sample) Identity() string {
	if s.Username != nil {
		if v := strings.TrimSpace(*s.Username); v != "" {
			return v
		}
	}
	if s.Email != nil {
		return strings.TrimSpace(*s.Email)
	}
	return ""
}

// NormalizeIdentity produces the case-insensitive lookup key for an identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Validate checks the sample and returns its coordinate.
func (s Sample) Validate() (geo.Point, error) {
	if s.Latitude == nil || s.Longitude == nil {
		return geo.Point{}, pkgerrors.New(pkgerrors.CodeValidation, MsgCoordinatesRequired)
	}
	p := geo.Point{Lat: *s.Latitude, Lng: *s.Longitude}
	if err := p.Validate(); err != nil {
		return geo.Point{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	if NormalizeIdentity(s.Identity()) == "" {
		return geo.Point{}, pkgerrors.New(pkgerrors.CodeValidation, MsgIdentityRequired)
	}
	return p, nil
}

// FarUser is an identity whose last position lies beyond the queried radius.
type FarUser struct {
	Identity    string
	IdentityKey string
	Distance    float64
}

// Position is the public view of a stored position.
type Position struct {
	Identity  string
	Latitude  float64
	Longitude float64
	SampledAt time.Time
}

// ReconcileResult summarises an index repair pass.
type ReconcileResult struct {
	Indexed  int
	Skipped  int
	Orphaned int
}

// Service covers ingest and proximity queries.
type Service interface {
	Ingest(ctx context.Context, sample Sample) error
	ListUsersBeyondRadius(ctx context.Context, ref geo.Point, radiusMeters float64) ([]FarUser, error)
	GetLastKnownPosition(ctx context.Context, identity string) (*Position, error)
	EnsureIndex(ctx context.Context) error
	ReconcileIndex(ctx context.Context, batchSize int) (ReconcileResult, error)
	PruneSampledBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the service dependencies.
type ServiceParams struct {
	DB      txRunner
	Repo    Repository
	Index   Index
	Events  eventEmitter
	Logger  *logger.Logger
	Metrics *metrics.LocationMetrics
	// Fence is the server-side geofence used to detect transitions on ingest.
	Fence geofence.Fence
	// StaleAfter excludes older positions from beyond-radius results when positive.
	StaleAfter time.Duration
	Now        func() time.Time
}

type service struct {
	db         txRunner
	repo       Repository
	index      Index
	events     eventEmitter
	logg       *logger.Logger
	metrics    *metrics.LocationMetrics
	fence      geofence.Fence
	staleAfter time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "positions repository required")
	}
	if params.Index == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "geo index required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if err := params.Fence.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid geofence")
	}
	if params.StaleAfter < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stale-after must not be negative")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:         params.DB,
		repo:       params.Repo,
		index:      params.Index,
		events:     params.Events,
		logg:       params.Logger,
		metrics:    params.Metrics,
		fence:      params.Fence,
		staleAfter: params.StaleAfter,
		now:        now,
	}, nil
}

// Ingest validates the sample, upserts it by identity key and queues a geofence
// event when the position crosses the fence. The geo index is updated after commit;
// a failed index write is logged and left for the reconcile job.
func (s *service) Ingest(ctx context.Context, sample Sample) error {
	channel := sample.Channel.String()
	point, err := sample.Validate()
	if err != nil {
		s.metrics.IncSample(channel, metrics.ResultRejected)
		return err
	}

	identity := sample.Identity()
	key := NormalizeIdentity(identity)
	sampledAt := s.now().UTC()
	ctx = s.logg.WithIdentity(ctx, key)

	var transition enums.OutboxEventType
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		prevState := enums.GeofenceWithin
		id := uuid.New()
		prev, err := repo.FindByIdentityKeyForUpdate(ctx, key)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			id = prev.ID
			if prevPoint, perr := prev.Location.Point(); perr == nil {
				_, prevState = s.fence.Classify(prevPoint)
			}
		}

		record := &models.Position{
			ID:          id,
			Identity:    identity,
			IdentityKey: key,
			Username:    trimmedOrNil(sample.Username),
			Email:       trimmedOrNil(sample.Email),
			Location:    types.NewGeoJSONPoint(point),
			SampledAt:   sampledAt,
		}
		if err := repo.Upsert(ctx, record); err != nil {
			return err
		}

		distance, nextState := s.fence.Classify(point)
		eventType, crossed := enums.TransitionEvent(prevState, nextState)
		if !crossed || s.events == nil {
			return nil
		}
		transition = eventType
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePosition,
			AggregateID:   id,
			Source:        &outbox.SourceRef{Identity: key, Channel: sample.Channel},
			OccurredAt:    sampledAt,
			Data: payloads.GeofenceTransitionEvent{
				PositionID:     id,
				Identity:       identity,
				IdentityKey:    key,
				Latitude:       point.Lat,
				Longitude:      point.Lng,
				DistanceMeters: distance,
				RadiusMeters:   s.fence.RadiusMeters,
				PreviousState:  prevState,
				State:          nextState,
				SampledAt:      sampledAt,
			},
		})
	})
	if err != nil {
		s.metrics.IncSample(channel, metrics.ResultFailed)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store position")
	}
	s.metrics.IncSample(channel, metrics.ResultStored)
	if transition != "" {
		s.metrics.IncTransition(string(transition))
	}

	if err := s.index.Add(ctx, key, point); err != nil {
		s.metrics.IncIndexFailure("add")
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "geo index update failed")
	}
	return nil
}

// ListUsersBeyondRadius walks the index in ascending distance from ref and keeps
// the identities whose stored position is strictly farther than radiusMeters.
func (s *service) ListUsersBeyondRadius(ctx context.Context, ref geo.Point, radiusMeters float64) ([]FarUser, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveQuery("nearby_users", time.Since(started)) }()

	if err := ref.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reference point")
	}
	if !(radiusMeters > 0) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "radius must be positive")
	}

	candidates, err := s.index.Nearest(ctx, ref)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query geo index")
	}
	if len(candidates) == 0 {
		s.metrics.SetBeyondRadius(0)
		return []FarUser{}, nil
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.IdentityKey
	}
	records, err := s.repo.FindByIdentityKeys(ctx, keys)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load positions")
	}

	var cutoff time.Time
	if s.staleAfter > 0 {
		cutoff = s.now().UTC().Add(-s.staleAfter)
	}

	out := make([]FarUser, 0, len(candidates))
	for _, c := range candidates {
		record, ok := records[c.IdentityKey]
		if !ok {
			s.logg.Debug(s.logg.WithIdentity(ctx, c.IdentityKey), "indexed identity has no stored position")
			continue
		}
		point, err := record.Location.Point()
		if err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"identity": c.IdentityKey,
				"error":    err.Error(),
			}), "skipping position with malformed coordinates")
			continue
		}
		if !cutoff.IsZero() && record.SampledAt.Before(cutoff) {
			continue
		}
		if d, beyond := geo.Beyond(ref, point, radiusMeters); beyond {
			out = append(out, FarUser{Identity: record.Identity, IdentityKey: record.IdentityKey, Distance: d})
		}
	}
	s.metrics.SetBeyondRadius(len(out))
	return out, nil
}

func (s *service) GetLastKnownPosition(ctx context.Context, identity string) (*Position, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveQuery("last_location", time.Since(started)) }()

	key := NormalizeIdentity(identity)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, MsgIdentityRequired)
	}

	record, err := s.repo.FindByIdentityKey(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, NotFoundMessage(identity))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load position")
	}

	point, err := record.Location.Point()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidData, err, MsgIncompleteCoords)
	}
	return &Position{
		Identity:  record.Identity,
		Latitude:  point.Lat,
		Longitude: point.Lng,
		SampledAt: record.SampledAt,
	}, nil
}

// EnsureIndex seeds the geo index from storage when it does not exist yet.
func (s *service) EnsureIndex(ctx context.Context) error {
	exists, err := s.index.Exists(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check geo index")
	}
	if exists {
		return nil
	}
	result, err := s.ReconcileIndex(ctx, defaultBatchSize)
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"indexed": result.Indexed,
		"skipped": result.Skipped,
	}), "geo index seeded")
	return nil
}

// ReconcileIndex re-adds every stored position and removes index members without a record.
func (s *service) ReconcileIndex(ctx context.Context, batchSize int) (ReconcileResult, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	var (
		result   ReconcileResult
		addErrs  error
		knownSet = make(map[string]struct{})
	)
	err := s.repo.ListInBatches(ctx, batchSize, func(batch []models.Position) error {
		for _, record := range batch {
			knownSet[record.IdentityKey] = struct{}{}
			point, err := record.Location.Point()
			if err != nil {
				result.Skipped++
				continue
			}
			if err := s.index.Add(ctx, record.IdentityKey, point); err != nil {
				addErrs = multierr.Append(addErrs, fmt.Errorf("index %s: %w", record.IdentityKey, err))
				continue
			}
			result.Indexed++
		}
		return nil
	})
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan positions")
	}

	members, err := s.index.Members(ctx)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, multierr.Append(addErrs, err), "list geo index members")
	}
	var orphans []string
	for _, member := range members {
		if _, ok := knownSet[member]; !ok {
			orphans = append(orphans, member)
		}
	}
	if len(orphans) > 0 {
		// identities ingested after the scan started are not orphans
		stored, err := s.repo.FindByIdentityKeys(ctx, orphans)
		if err != nil {
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, multierr.Append(addErrs, err), "recheck orphaned members")
		}
		orphans = filterMissing(orphans, stored)
	}
	if len(orphans) > 0 {
		if err := s.index.Remove(ctx, orphans...); err != nil {
			addErrs = multierr.Append(addErrs, fmt.Errorf("remove orphans: %w", err))
		} else {
			result.Orphaned = len(orphans)
		}
	}
	if addErrs != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, addErrs, "reconcile geo index")
	}
	return result, nil
}

// PruneSampledBefore deletes positions last sampled before cutoff and drops them from the index.
func (s *service) PruneSampledBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	var (
		total     int
		indexErrs error
	)
	for {
		keys, err := s.repo.DeleteSampledBefore(ctx, cutoff, batchSize)
		if err != nil {
			return total, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete stale positions")
		}
		total += len(keys)
		if len(keys) > 0 {
			if err := s.index.Remove(ctx, keys...); err != nil {
				s.metrics.IncIndexFailure("remove")
				indexErrs = multierr.Append(indexErrs, err)
			}
		}
		if len(keys) < batchSize {
			break
		}
	}
	if indexErrs != nil {
		return total, pkgerrors.Wrap(pkgerrors.CodeDependency, indexErrs, "remove pruned positions from geo index")
	}
	return total, nil
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}

func filterMissing(keys []string, stored map[string]models.Position) []string {
	out := keys[:0]
	for _, key := range keys {
		if _, ok := stored[key]; !ok {
			out = append(out, key)
		}
	}
	return out
}

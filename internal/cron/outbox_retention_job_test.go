package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

type fakeOutboxRetentionRepo struct {
	cutoff      time.Time
	minAttempts int
	deletes     int
	counts      int
	deleteErr   error
	countErr    error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.deletes++
	f.cutoff = cutoff
	f.minAttempts = minAttemptCount
	return 7, f.deleteErr
}

func (f *fakeOutboxRetentionRepo) CountPending(*gorm.DB) (int64, error) {
	f.counts++
	return 3, f.countErr
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func buildOutboxRetentionJob(t *testing.T, repo *fakeOutboxRetentionRepo, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.New(logger.Options{ServiceName: "test"})
	params.DB = passthroughTx{}
	params.Repository = repo
	job, err := NewOutboxRetentionJob(params)
	require.NoError(t, err)
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := buildOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, now.Add(-defaultOutboxMaxAge), repo.cutoff)
	require.Equal(t, defaultOutboxMinAttempts, repo.minAttempts)
	require.Equal(t, 1, repo.deletes)
	require.Equal(t, 1, repo.counts)
}

func TestOutboxRetentionUsesConfiguredWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := buildOutboxRetentionJob(t, repo, OutboxRetentionJobParams{MaxAge: 48 * time.Hour, MinAttempts: 10})
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, now.Add(-48*time.Hour), repo.cutoff)
	require.Equal(t, 10, repo.minAttempts)
}

func TestOutboxRetentionPropagatesErrors(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{deleteErr: errors.New("boom")}
	job := buildOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})
	require.ErrorContains(t, job.Run(context.Background()), "delete: boom")
	require.Zero(t, repo.counts)

	repo = &fakeOutboxRetentionRepo{countErr: errors.New("count down")}
	job = buildOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})
	require.ErrorContains(t, job.Run(context.Background()), "count pending")
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{})
	require.Error(t, err)
}

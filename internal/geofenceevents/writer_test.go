package geofenceevents

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type insertCall struct {
	table string
	rows  []any
}

type fakeInserter struct {
	responses []error
	calls     []insertCall
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.calls = append(f.calls, insertCall{table: table, rows: rows})
	if len(f.responses) == 0 {
		return nil
	}
	err := f.responses[0]
	f.responses = f.responses[1:]
	return err
}

func newTestWriter(t *testing.T) (*Writer, *fakeInserter) {
	t.Helper()
	fake := &fakeInserter{}
	w, err := NewWriter(fake, "geofence_events", RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaximumBackoff: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w, fake
}

func TestNewWriterValidation(t *testing.T) {
	if _, err := NewWriter(nil, "t", RetryPolicy{}); err == nil {
		t.Fatal("expected error when client missing")
	}
	if _, err := NewWriter(&fakeInserter{}, " ", RetryPolicy{}); err == nil {
		t.Fatal("expected error when table missing")
	}
}

func TestWriterRetriesOnTransientError(t *testing.T) {
	w, fake := newTestWriter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusServiceUnavailable}, nil}

	if err := w.Insert(context.Background(), Row{EventID: "1"}); err != nil {
		t.Fatalf("unexpected error writing row: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(fake.calls))
	}
	if fake.calls[1].table != "geofence_events" {
		t.Fatalf("unexpected table %s", fake.calls[1].table)
	}
}

func TestWriterStopsOnPermanentError(t *testing.T) {
	w, fake := newTestWriter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusBadRequest}}

	if err := w.Insert(context.Background(), Row{EventID: "1"}); err == nil {
		t.Fatal("expected error")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(fake.calls))
	}
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	w, fake := newTestWriter(t)
	unavailable := status.Error(codes.Unavailable, "try later")
	fake.responses = []error{unavailable, unavailable, unavailable, unavailable}

	if err := w.Insert(context.Background(), Row{EventID: "1"}); err == nil {
		t.Fatal("expected error after retries")
	}
	if len(fake.calls) != 3 {
		t.Fatalf("expected three attempts, got %d", len(fake.calls))
	}
}

func TestIsRetryableBigQueryError(t *testing.T) {
	if isRetryableBigQueryError(errors.New("plain")) {
		t.Fatal("plain errors are not retryable")
	}
	if !isRetryableBigQueryError(&googleapi.Error{Code: http.StatusTooManyRequests}) {
		t.Fatal("429 should be retryable")
	}
	if isRetryableBigQueryError(status.Error(codes.InvalidArgument, "bad")) {
		t.Fatal("invalid argument is not retryable")
	}
}

func TestRowSaveUsesEventIDAsInsertID(t *testing.T) {
	row := &Row{EventID: "evt-1", EventType: "geofence.exited", State: "beyond"}
	values, insertID, err := row.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if insertID != "evt-1" {
		t.Fatalf("expected insert id evt-1, got %s", insertID)
	}
	if values["state"] != "beyond" {
		t.Fatalf("unexpected state %v", values["state"])
	}
	if _, ok := values["payload"]; ok {
		t.Fatal("null payload must be omitted")
	}
}

func TestEncodeJSONRejectsInvalid(t *testing.T) {
	if _, err := encodeJSON([]byte("{")); err == nil {
		t.Fatal("expected invalid json to fail")
	}
	nj, err := encodeJSON(nil)
	if err != nil || nj.Valid {
		t.Fatalf("expected null json, got %v %v", nj, err)
	}
}

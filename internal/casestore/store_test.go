package casestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ravikadam/tasks/internal/config"
	"github.com/ravikadam/tasks/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, h http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.StoreConfig{
		BaseURL:     srv.URL,
		Timeout:     config.Duration(time.Second),
		MaxAttempts: 2,
		BaseBackoff: config.Duration(time.Millisecond),
	}, nil)
}

func TestCreateCase(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/cases", r.URL.Path)

		var nc NewCase
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&nc))
		_ = json.NewEncoder(w).Encode(Case{ID: "c-1", Title: nc.Title, Status: StatusOpen, Priority: nc.Priority})
	})

	c, err := s.CreateCase(context.Background(), NewCase{Title: "Call John", Priority: schema.PriorityMedium})
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, StatusOpen, c.Status)
	assert.Equal(t, "Call John", c.Title)
}

func TestGetCase(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/cases/missing" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(Case{ID: "c-1", Status: StatusResolved})
	})

	c, err := s.GetCase(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, c.Status.Finished())

	_, err = s.GetCase(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCase_ServerErrorIsNotNotFound(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := s.GetCase(context.Background(), "c-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestAppendEntry(t *testing.T) {
	var got Entry
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cases/c-1/history", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		got.ID = "e-1"
		_ = json.NewEncoder(w).Encode(got)
	})

	ts := time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)
	e, err := s.AppendEntry(context.Background(), Entry{CaseID: "c-1", Message: "hi", Sender: SenderUser, Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, "e-1", e.ID)
	assert.Equal(t, SenderUser, got.Sender)
	assert.Equal(t, ts, got.Timestamp)
	assert.NotNil(t, got.Metadata, "metadata is always sent")
}

func TestUpdateState_RetriesConflictOnce(t *testing.T) {
	var calls atomic.Int32
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/cases/c-1/state", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(Case{ID: "c-1", Status: Status(body["status"])})
	})

	c, err := s.UpdateState(context.Background(), "c-1", StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, c.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUpdateState_PersistentConflict(t *testing.T) {
	var calls atomic.Int32
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	})

	_, err := s.UpdateState(context.Background(), "c-1", StatusInProgress)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAppendEntry_RetriesConflictOnce(t *testing.T) {
	var calls atomic.Int32
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cases/c-1/history", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		var e Entry
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		e.ID = "e-2"
		_ = json.NewEncoder(w).Encode(e)
	})

	out, err := s.AppendEntry(context.Background(), Entry{CaseID: "c-1", Message: "hi", Sender: SenderUser})
	require.NoError(t, err)
	assert.Equal(t, "e-2", out.ID)
	assert.Equal(t, "hi", out.Message)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAppendEntry_PersistentConflict(t *testing.T) {
	var calls atomic.Int32
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	})

	_, err := s.AppendEntry(context.Background(), Entry{CaseID: "c-1", Message: "hi", Sender: SenderUser})
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorContains(t, err, "status 409")
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateCase_RetriesConflictOnce(t *testing.T) {
	var calls atomic.Int32
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_ = json.NewEncoder(w).Encode(Case{ID: "c-9", Status: StatusOpen})
	})

	c, err := s.CreateCase(context.Background(), NewCase{Title: "Buy milk", Priority: schema.PriorityLow})
	require.NoError(t, err)
	assert.Equal(t, "c-9", c.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAppendEntry_OtherStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := s.AppendEntry(context.Background(), Entry{CaseID: "c-1", Message: "hi", Sender: SenderUser})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(1), calls.Load())
}

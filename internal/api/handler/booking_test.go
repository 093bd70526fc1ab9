package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-class-booking/internal/api"
	"github.com/sanosuguru/go-class-booking/internal/api/middleware"
	"github.com/sanosuguru/go-class-booking/internal/application"
	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/memory"
)

func newBookingServer(t *testing.T, ledger BookingLedgerInterface, view BookingViewInterface) *httptest.Server {
	t.Helper()
	e := NewTestEcho()
	h := NewBookingHandler(ledger, view)
	e.POST("/classes/:key/bookings", h.Book)
	e.DELETE("/classes/:key/bookings", h.Cancel)
	e.GET("/bookings", h.List)
	e.GET("/bookings/stream", h.Stream)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, userID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
		req.Header.Set(middleware.HeaderUserName, "Hanako")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestBookingHandler_Book(t *testing.T) {
	t.Run("予約を作成して201を返す", func(t *testing.T) {
		ledger := new(MockBookingLedger)
		ledger.On("Book", mock.Anything, booking.Identity{UserID: "u1", DisplayName: "Hanako"}, "c1").
			Return(&booking.Booking{ID: "u1_c1", UserID: "u1", ClassID: "c1", ClassStatus: class.StatusActive}, nil)
		srv := newBookingServer(t, ledger, nil)

		res := doRequest(t, http.MethodPost, srv.URL+"/classes/c1/bookings", "u1")

		assert.Equal(t, http.StatusCreated, res.StatusCode)
		var body BookingResponse
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		assert.Equal(t, "u1_c1", body.ID)
		assert.Equal(t, class.StatusActive, body.ClassStatus)
	})

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"未ログインは401", booking.ErrNotAuthenticated, http.StatusUnauthorized},
		{"満席は409", booking.ErrClassFull, http.StatusConflict},
		{"予約不可は409", booking.ErrClassNotBookable, http.StatusConflict},
		{"予約済みは409", booking.ErrAlreadyBooked, http.StatusConflict},
		{"処理中は409", booking.ErrBookingInProgress, http.StatusConflict},
		{"クラスなしは404", booking.ErrClassNotFound, http.StatusNotFound},
		{"コースなしは500", booking.ErrCourseNotFound, http.StatusInternalServerError},
		{"ストア障害は503", booking.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := new(MockBookingLedger)
			ledger.On("Book", mock.Anything, mock.Anything, "c1").Return(nil, tt.err)
			srv := newBookingServer(t, ledger, nil)

			res := doRequest(t, http.MethodPost, srv.URL+"/classes/c1/bookings", "u1")

			assert.Equal(t, tt.wantCode, res.StatusCode)
			var body api.ErrorResponse
			require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestBookingHandler_Cancel(t *testing.T) {
	t.Run("キャンセルして204を返す", func(t *testing.T) {
		ledger := new(MockBookingLedger)
		ledger.On("Cancel", mock.Anything, "u1", "c1").Return(nil)
		srv := newBookingServer(t, ledger, nil)

		res := doRequest(t, http.MethodDelete, srv.URL+"/classes/c1/bookings", "u1")
		assert.Equal(t, http.StatusNoContent, res.StatusCode)
		ledger.AssertExpectations(t)
	})

	t.Run("予約なしは404", func(t *testing.T) {
		ledger := new(MockBookingLedger)
		ledger.On("Cancel", mock.Anything, "u1", "c1").Return(booking.ErrBookingNotFound)
		srv := newBookingServer(t, ledger, nil)

		res := doRequest(t, http.MethodDelete, srv.URL+"/classes/c1/bookings", "u1")
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

// newLiveView はメモリストア上の予約一覧サービスを作る
func newLiveView(t *testing.T) (*memory.Store, *application.LiveBookingService) {
	t.Helper()
	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })
	return s, application.NewLiveBookingService(s, nil)
}

func seedBooking(t *testing.T, s *memory.Store, userID, classKey string) {
	t.Helper()
	id := booking.ID(userID, classKey)
	require.NoError(t, s.Update(context.Background(), map[string]any{
		booking.Path(id): booking.Booking{
			ID: id, UserID: userID, ClassID: classKey,
			BookingDate: time.Now().UTC().Format(time.RFC3339Nano),
			ClassStatus: class.StatusActive,
		},
		booking.UserIndexEntryPath(userID, classKey):  true,
		booking.ClassIndexEntryPath(classKey, userID): true,
	}))
}

func TestBookingHandler_List(t *testing.T) {
	s, view := newLiveView(t)
	seedBooking(t, s, "u1", "c1")
	srv := newBookingServer(t, nil, view)

	res := doRequest(t, http.MethodGet, srv.URL+"/bookings", "u1")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var body BookingsResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Bookings, 1)
	assert.Equal(t, "u1_c1", body.Bookings[0].ID)

	res = doRequest(t, http.MethodGet, srv.URL+"/bookings", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, res *http.Response, out chan<- sseEvent) {
	t.Helper()
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(res.Body)
		var ev sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) BookingsResponse {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed")
			if ev.name != name {
				continue
			}
			var body BookingsResponse
			require.NoError(t, json.Unmarshal([]byte(ev.data), &body))
			return body
		case <-timeout:
			t.Fatalf("%s イベントが届きません", name)
		}
	}
}

func TestBookingHandler_Stream(t *testing.T) {
	s, view := newLiveView(t)
	srv := newBookingServer(t, nil, view)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/bookings/stream", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.HeaderUserID, "u1")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	events := make(chan sseEvent, 16)
	readEvents(t, res, events)

	loading := nextEvent(t, events, "loading")
	assert.True(t, loading.Loading.IsLoading)

	first := nextEvent(t, events, "bookings")
	assert.Empty(t, first.Bookings)
	assert.False(t, first.Loading.IsLoading)

	seedBooking(t, s, "u1", "c1")
	for {
		got := nextEvent(t, events, "bookings")
		if len(got.Bookings) == 1 {
			assert.Equal(t, "u1_c1", got.Bookings[0].ID)
			break
		}
	}
}

func TestBookingHandler_Stream_Unauthenticated(t *testing.T) {
	_, view := newLiveView(t)
	srv := newBookingServer(t, nil, view)

	res := doRequest(t, http.MethodGet, srv.URL+"/bookings/stream", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

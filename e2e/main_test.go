package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-class-booking/internal/api/handler"
	"github.com/sanosuguru/go-class-booking/internal/api/middleware"
	"github.com/sanosuguru/go-class-booking/internal/app"
	"github.com/sanosuguru/go-class-booking/internal/config"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// 初期データ: 定員3の月曜朝ヨガと定員10の水曜夜ピラティス、キャンセル済みのクラス
const seedJSON = `{
  "courses": {
    "yoga":    {"dayOfWeek": "Monday", "time": "10:00", "capacity": 3, "duration": 60, "price": 12.5, "classType": "Flow Yoga"},
    "pilates": {"dayOfWeek": "Wednesday", "time": "19:30", "capacity": 10, "duration": 45, "price": 15, "classType": "Mat Pilates"}
  },
  "classes": {
    "yoga-0601":    {"courseFirebaseKey": "yoga", "date": "01/06/2026", "assignedInstructor": "Aiko"},
    "yoga-0608":    {"courseFirebaseKey": "yoga", "date": "08/06/2026", "assignedInstructor": "Aiko"},
    "pilates-0603": {"courseFirebaseKey": "pilates", "date": "03/06/2026", "assignedInstructor": "Ken"},
    "pilates-0610": {"courseFirebaseKey": "pilates", "date": "10/06/2026", "assignedInstructor": "Ken", "status": "cancelled"}
  }
}`

// TestServer はE2Eテスト用のサーバー
type TestServer struct {
	Echo    *echo.Echo
	Backend *app.Backend
}

// getTestServer はメモリストアに初期データを投入したサーバーを作成する
func getTestServer(t *testing.T) *TestServer {
	t.Helper()
	cfg := &config.Config{
		Store: config.StoreConfig{
			Driver:     config.StoreMemory,
			TxAttempts: 50,
			TxDelay:    time.Millisecond,
			TxMaxDelay: 10 * time.Millisecond,
		},
	}

	b, err := app.OpenStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	data, err := app.ReadSeed(strings.NewReader(seedJSON))
	require.NoError(t, err)
	_, err = app.Seed(context.Background(), b, data)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	e := app.NewServer(cfg, app.Deps{
		Store:    b,
		Metrics:  metrics.NewWithRegistry(reg),
		Gatherer: reg,
		Health:   map[string]handler.HealthCheck{"store": b.Ping},
	})
	return &TestServer{Echo: e, Backend: b}
}

// Request はHTTPリクエストを実行
func (s *TestServer) Request(method, path string, body interface{}, userID string) *httptest.ResponseRecorder {
	var reqBody []byte
	if body != nil {
		reqBody, _ = json.Marshal(body)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
		req.Header.Set(middleware.HeaderUserName, userID+"-name")
		req.Header.Set(middleware.HeaderUserEmail, userID+"@example.com")
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

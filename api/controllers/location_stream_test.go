package controllers

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hostelsync/hostelsync-backend/internal/locations"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	"github.com/hostelsync/hostelsync-backend/pkg/metrics"
)

func streamConfig() config.IngestConfig {
	return config.IngestConfig{
		ReadLimitBytes: 1024,
		PongWait:       5 * time.Second,
		PingInterval:   time.Second,
		WriteWait:      time.Second,
		AllowedOrigins: []string{"https://portal.example"},
	}
}

func startStreamServer(t *testing.T, svc locations.Service, baseCtx context.Context) *httptest.Server {
	t.Helper()
	m := metrics.NewLocationMetrics(prometheus.NewRegistry())
	srv := httptest.NewUnstartedServer(LocationStream(svc, streamConfig(), m, testLogger()))
	if baseCtx != nil {
		srv.Config.BaseContext = func(net.Listener) context.Context { return baseCtx }
	}
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func dialStream(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSample(t *testing.T, svc *fakeLocations) locations.Sample {
	t.Helper()
	select {
	case s := <-svc.received:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sample")
	}
	return locations.Sample{}
}

func TestLocationStreamIngestsFramesAndSurvivesBadOnes(t *testing.T) {
	svc := newFakeLocations()
	srv := startStreamServer(t, svc, nil)
	conn := dialStream(t, srv, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"username":"alice","email":"a@x.io","latitude":17.5,"longitude":78.3}`)))
	first := waitSample(t, svc)
	require.Equal(t, "alice", first.Identity())
	require.Equal(t, enums.IngestChannelWebsocket, first.Channel)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"username":"alice","latitude":17.5}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"email":"bob@x.io","latitude":17.6,"longitude":78.4}`)))
	second := waitSample(t, svc)
	require.Equal(t, "bob@x.io", second.Identity())
	require.Equal(t, 2, svc.count())
}

func TestLocationStreamOneShotConnections(t *testing.T) {
	svc := newFakeLocations()
	srv := startStreamServer(t, svc, nil)

	for i := 0; i < 3; i++ {
		conn := dialStream(t, srv, nil)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"username":"carol","latitude":1,"longitude":2}`)))
		waitSample(t, svc)
		require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
		conn.Close()
	}
	require.Equal(t, 3, svc.count())
}

func TestLocationStreamRejectsForeignOrigin(t *testing.T) {
	svc := newFakeLocations()
	srv := startStreamServer(t, svc, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dialStream(t, srv, http.Header{"Origin": []string{"https://portal.example"}})
	require.NotNil(t, conn)
}

func TestLocationStreamSendsCloseFrameOnShutdown(t *testing.T) {
	svc := newFakeLocations()
	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := startStreamServer(t, svc, baseCtx)
	conn := dialStream(t, srv, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"username":"dave","latitude":1,"longitude":2}`)))
	waitSample(t, svc)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://portal.example"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.True(t, check(req))

	req.Header.Set("Origin", "https://PORTAL.example")
	require.True(t, check(req))

	req.Header.Set("Origin", "http://portal.example")
	require.False(t, check(req))

	require.True(t, originChecker([]string{"*"})(req))
}

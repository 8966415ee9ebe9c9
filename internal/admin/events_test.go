package admin

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/testutil/testlog"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestEventsStreamObserverCallbacks(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)
	s := New(DefaultConfig(), &fakeController{}, hub)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.OnPeerJoined("fd00::2", identity.Hash(0xbb))
	hub.OnDeliveryResult(7, "fd00::2", false)
	hub.OnReceive("fd00::2", true, []byte{0xca, 0xfe})

	var got []Event
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 3 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		got = append(got, ev)
	}

	require.Equal(t, EventJoined, got[0].Kind)
	require.Equal(t, identity.Hash(0xbb).String(), got[0].Hash)
	require.Equal(t, EventDelivery, got[1].Kind)
	require.Equal(t, uint16(7), got[1].MessageID)
	require.Equal(t, "failed", got[1].Outcome)
	require.Equal(t, EventReceive, got[2].Kind)
	require.Equal(t, "cafe", got[2].PayloadHex)
	require.True(t, got[2].Reliable)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	testlog.Start(t)
	hub := NewHub()
	for i := 0; i < hubBuffer+10; i++ {
		hub.OnPeerRejoined("fd00::3", identity.Hash(1))
	}
	require.Equal(t, uint64(10), hub.Dropped())
}

func TestHubShutdownDisconnectsClients(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	s := New(DefaultConfig(), &fakeController{}, hub)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.Zero(t, hub.ClientCount())
}

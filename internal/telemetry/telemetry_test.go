package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast("cycle", map[string]string{"outcome": "traded"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg struct {
		Topic string            `json:"topic"`
		Data  map[string]string `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Topic != "cycle" || msg.Data["outcome"] != "traded" {
		t.Errorf("message = %s", raw)
	}
}

func TestBroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(zap.NewNop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*4; i++ {
			hub.Broadcast("cycle", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked with no Run loop")
	}
}

func TestMetrics(t *testing.T) {
	SetGain(0.042, true)
	if got := testutil.ToFloat64(mtxGain); got != 0.042 {
		t.Errorf("gain = %v", got)
	}
	if got := testutil.ToFloat64(mtxFrozen); got != 1 {
		t.Errorf("frozen = %v", got)
	}

	before := testutil.ToFloat64(mtxOrders.WithLabelValues("remargin"))
	ObserveOrders("remargin", 2)
	ObserveOrders("remargin", 0)
	if got := testutil.ToFloat64(mtxOrders.WithLabelValues("remargin")); got != before+2 {
		t.Errorf("remargin orders = %v, want %v", got, before+2)
	}

	ObserveCycle("", time.Second)
	if got := testutil.ToFloat64(mtxCycles.WithLabelValues("unknown")); got < 1 {
		t.Errorf("unknown outcome not counted")
	}
}

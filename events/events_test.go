package events

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var decision = models.SpawnDecision{
	EntityType:    "trash_can",
	WorldPosition: models.Vec3{X: 1, Y: 2, Z: 5},
	Label:         "can",
	Confidence:    0.8,
	CycleID:       "c1",
}

func TestFanout(t *testing.T) {
	var got []string
	ok := SinkFunc(func(ctx context.Context, d models.SpawnDecision) error {
		got = append(got, d.EntityType)
		return nil
	})
	boom := errors.New("boom")
	bad := SinkFunc(func(ctx context.Context, d models.SpawnDecision) error { return boom })

	err := Fanout{ok, bad, nil, ok}.Spawn(context.Background(), decision)
	if !errors.Is(err, boom) {
		t.Errorf("error: got %v, want boom", err)
	}
	if len(got) != 2 {
		t.Errorf("delivered %d times, want 2", len(got))
	}

	if err := (Fanout{ok}).Spawn(context.Background(), decision); err != nil {
		t.Errorf("clean fanout: %v", err)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true})

	if err := NewLogSink(l).Spawn(context.Background(), decision); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"entity_type=trash_can", "cycle_id=c1", "component=spawn"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func startHub(t *testing.T) (*Hub, string, chan string) {
	t.Helper()
	hub := NewHub(log.Discard())
	collected := make(chan string, 4)
	hub.OnCollected(func(entityType string) { collected <- entityType })

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), collected
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsSpawn(t *testing.T) {
	hub, url, _ := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	if err := hub.Spawn(context.Background(), decision); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != TypeSpawn || msg.Spawn == nil {
		t.Fatalf("message: %+v", msg)
	}
	if *msg.Spawn != decision {
		t.Errorf("spawn: got %+v, want %+v", *msg.Spawn, decision)
	}
}

func TestHubCollected(t *testing.T) {
	hub, url, collected := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	msgs := []string{
		`not json`,
		`{"type":"collected"}`,
		`{"type":"collected","entity_type":"trash_bottle"}`,
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-collected:
		if got != "trash_bottle" {
			t.Errorf("collected: got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no collected callback")
	}

	conn.Close()
	waitClients(t, hub, 0)
}

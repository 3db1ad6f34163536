package livefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/llm-chess-arena/internal/chess/transcript"
	"github.com/park285/llm-chess-arena/internal/game"
)

func newFeedServer(t *testing.T) (string, <-chan Event) {
	t.Helper()
	got := make(chan Event, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			var ev Event
			if err := wsjson.Read(r.Context(), c, &ev); err != nil {
				return
			}
			got <- ev
		}
	}))
	t.Cleanup(srv.Close)
	return "ws://" + strings.TrimPrefix(srv.URL, "http://"), got
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublisherStreamsGameEvents(t *testing.T) {
	url, got := newFeedServer(t)
	p := New(url, "run-1")
	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if p.State() != StateConnected {
		t.Fatalf("state = %v", p.State())
	}

	ply := transcript.Ply{Mover: transcript.MoverModel, SAN: "e4", UCI: "e2e4", Label: "1."}
	var obs game.Observer = p
	obs.PlyApplied(ctx, game.PlyEvent{GameID: "g1", Ply: ply, Index: 1, FEN: "fen"})
	obs.GameFinished(ctx, game.Result{GameID: "g1", Outcome: game.Outcome{Kind: game.IllegalMove}, Plies: []transcript.Ply{ply}, PGN: "pgn"})

	first := receive(t, got)
	if first.Type != EventPly || first.RunID != "run-1" || first.SAN != "e4" || first.Mover != "model" || first.Ply != 1 {
		t.Fatalf("ply event = %+v", first)
	}
	if first.At.IsZero() {
		t.Fatal("event has no timestamp")
	}
	second := receive(t, got)
	if second.Type != EventGameOver || second.Result != "*" || second.Outcome != "illegal_move" || second.PGN != "pgn" {
		t.Fatalf("game over event = %+v", second)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Close(closeCtx); err != nil {
		t.Logf("Close: %v", err)
	}
	if p.Publish(Event{Type: EventPly}) {
		t.Fatal("publish after close accepted")
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	p := New("ws://127.0.0.1:1", "run-1", WithQueueSize(1))
	if !p.Publish(Event{Type: EventPly, GameID: "a"}) {
		t.Fatal("first publish rejected")
	}
	if p.Publish(Event{Type: EventPly, GameID: "b"}) {
		t.Fatal("second publish accepted with a full queue")
	}
	if p.Dropped() != 1 {
		t.Fatalf("dropped = %d", p.Dropped())
	}
}

func TestConnectFailure(t *testing.T) {
	p := New("ws://127.0.0.1:1", "run-1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Connect(ctx); err == nil {
		t.Fatal("expected dial error")
	}
	if p.State() != StateFailed {
		t.Fatalf("state = %v", p.State())
	}
}

func TestIsWebsocketURL(t *testing.T) {
	for in, want := range map[string]bool{
		"ws://localhost:8080/feed": true,
		" WSS://feed.example ":     true,
		"http://localhost":         false,
		"":                         false,
	} {
		if got := IsWebsocketURL(in); got != want {
			t.Errorf("IsWebsocketURL(%q) = %v", in, got)
		}
	}
}

package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestPresenceTracker(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	p := NewPresenceTracker(client)

	if online, err := p.IsOnline(ctx, "u1"); err != nil || online {
		t.Fatalf("IsOnline before connect = %v, %v", online, err)
	}

	prev, err := p.SetOnline(ctx, "u1", "h1")
	if err != nil || prev != "" {
		t.Fatalf("SetOnline = %q, %v", prev, err)
	}
	if got, _ := mr.Get("presence:user:u1"); got != "h1" {
		t.Fatalf("stored handle = %q", got)
	}
	if h, ok, err := p.HandleFor(ctx, "u1"); err != nil || !ok || h != "h1" {
		t.Fatalf("HandleFor = %q, %v, %v", h, ok, err)
	}

	prev, _ = p.SetOnline(ctx, "u1", "h2")
	if prev != "h1" {
		t.Fatalf("previous = %q, want h1", prev)
	}

	released, err := p.Release(ctx, "u1", "h1")
	if err != nil || released {
		t.Fatalf("stale release = %v, %v", released, err)
	}
	if online, _ := p.IsOnline(ctx, "u1"); !online {
		t.Fatal("stale release took u1 offline")
	}

	released, err = p.Release(ctx, "u1", "h2")
	if err != nil || !released {
		t.Fatalf("current release = %v, %v", released, err)
	}
	if _, ok, _ := p.HandleFor(ctx, "u1"); ok {
		t.Fatal("u1 still has a handle")
	}

	p.SetOnline(ctx, "u2", "h3")
	if err := p.SetOffline(ctx, "u2"); err != nil {
		t.Fatal(err)
	}
	if online, _ := p.IsOnline(ctx, "u2"); online {
		t.Fatal("u2 still online after SetOffline")
	}
}

type delivery struct {
	kind, key, event, data string
}

type recorder struct {
	mu  sync.Mutex
	got []delivery
}

func (r *recorder) add(kind, key, event string, data interface{}) {
	raw, _ := data.(json.RawMessage)
	r.mu.Lock()
	r.got = append(r.got, delivery{kind, key, event, string(raw)})
	r.mu.Unlock()
}

func (r *recorder) EmitToHandle(handle, event string, data interface{}) {
	r.add("handle", handle, event, data)
}
func (r *recorder) EmitToGroup(group, event string, data interface{}) {
	r.add("group", group, event, data)
}
func (r *recorder) EmitToAll(event string, data interface{}) { r.add("all", "", event, data) }

func (r *recorder) waitFor(t *testing.T, n int) []delivery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.got) >= n {
			out := append([]delivery(nil), r.got...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries", n)
	return nil
}

func TestRelayFansOutToEveryInstance(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	local1, local2 := &recorder{}, &recorder{}
	relay1 := NewRelay(client, "test:broadcast", local1, zerolog.Nop())
	relay2 := NewRelay(client, "test:broadcast", local2, zerolog.Nop())
	for _, r := range []*Relay{relay1, relay2} {
		if err := r.Start(ctx); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { r.Close() })
	}

	relay1.EmitToGroup("user:u1", "new-notification", map[string]string{"title": "hi"})
	relay1.EmitToHandle("h9", "new-message", map[string]string{"id": "m1"})
	relay2.EmitToAll("user-online", map[string]string{"user_id": "u1"})

	for _, local := range []*recorder{local1, local2} {
		got := local.waitFor(t, 3)
		want := []delivery{
			{"group", "user:u1", "new-notification", `{"title":"hi"}`},
			{"handle", "h9", "new-message", `{"id":"m1"}`},
			{"all", "", "user-online", `{"user_id":"u1"}`},
		}
		for _, w := range want {
			if !containsDelivery(got, w) {
				t.Errorf("missing %+v in %+v", w, got)
			}
		}
	}
}

func TestRelayFallsBackToLocalWhenRedisIsDown(t *testing.T) {
	client, mr := newTestClient(t)
	local := &recorder{}
	relay := NewRelay(client, "test:broadcast", local, zerolog.Nop())

	mr.Close()
	relay.EmitToGroup("admin-room", "support-request", map[string]string{"user_id": "u1"})

	got := local.waitFor(t, 1)
	if got[0].key != "admin-room" || got[0].event != "support-request" {
		t.Fatalf("local delivery = %+v", got[0])
	}
}

func containsDelivery(list []delivery, d delivery) bool {
	for _, x := range list {
		if x == d {
			return true
		}
	}
	return false
}

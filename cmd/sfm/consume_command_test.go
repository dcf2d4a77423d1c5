package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"sfm/internal/bus"
	"sfm/internal/records"
	"sfm/internal/testsupport"
)

func TestConsumeAppliesPublishedStatus(t *testing.T) {
	server := miniredis.RunT(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRedisURL("redis://"+server.Addr()+"/0"))
	store := testsupport.MustOpenStore(t, cfg)
	fx := testsupport.NewFixture(t, store)
	configPath := writeConfigFile(t, cfg)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, _, err := runCLIContext(ctx, []string{"consume", "--metrics-addr", "127.0.0.1:0"}, configPath)
		done <- err
	}()

	client, err := bus.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	body := []byte(`{"id":"` + fx.Harvest.HarvestID + `","status":"running","date_started":"2016-05-21T10:00:00Z"}`)
	deadline := time.Now().Add(10 * time.Second)
	for {
		receivers, err := bus.Publish(t.Context(), client, "harvest.status.twitter.user_timeline", body)
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if receivers > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("consumer never subscribed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	for {
		harvest, err := store.GetHarvest(t.Context(), fx.Harvest.HarvestID)
		if err != nil {
			t.Fatalf("GetHarvest: %v", err)
		}
		if harvest.Status == records.HarvestRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status not applied, got %q", harvest.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	_, _, err = runCLI(t, []string{"consume"}, configPath)
	if err == nil || !strings.Contains(err.Error(), "another consumer") {
		t.Fatalf("expected lock contention error, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("consume returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("consume did not stop after cancel")
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	server := miniredis.RunT(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRedisURL("redis://"+server.Addr()+"/0"))
	configPath := writeConfigFile(t, cfg)

	client, err := bus.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()
	pubsub := client.PSubscribe(t.Context(), "harvest.status.*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(t.Context()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	out, _, err := runCLI(t, []string{"publish", "harvest.status.test", `{"id":"h1","status":"running"}`}, configPath)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	requireContains(t, out, "to 1 subscriber(s)")

	msg, err := pubsub.ReceiveMessage(t.Context())
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.Channel != "harvest.status.test" || !strings.Contains(msg.Payload, `"h1"`) {
		t.Fatalf("unexpected message %+v", msg)
	}
}

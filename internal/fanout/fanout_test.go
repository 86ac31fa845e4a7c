package fanout

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/model"
)

func TestPublishDeliversToDeviceAndUnknownBuckets(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	devCh, devCancel := bus.Subscribe("dev-1")
	defer devCancel()
	allCh, allCancel := bus.Subscribe(model.UnknownDeviceID)
	defer allCancel()

	bus.Publish(model.SignalRecord{DeviceID: "dev-1", Signal: model.SignalECG})

	select {
	case rec := <-devCh:
		if rec.DeviceID != "dev-1" {
			t.Fatalf("device bucket got %+v", rec)
		}
	default:
		t.Fatal("expected a record on the device-specific bucket")
	}

	select {
	case rec := <-allCh:
		if rec.DeviceID != "dev-1" {
			t.Fatalf("UNKNOWN bucket got %+v", rec)
		}
	default:
		t.Fatal("expected a record on the shared UNKNOWN bucket")
	}
}

func TestPublishWithUnknownDeviceOnlyHitsSharedBucket(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	allCh, cancel := bus.Subscribe(model.UnknownDeviceID)
	defer cancel()

	bus.Publish(model.SignalRecord{DeviceID: model.UnknownDeviceID, Signal: model.SignalECG})

	select {
	case <-allCh:
	default:
		t.Fatal("expected the shared bucket to receive the record")
	}
}

func TestBroadcastDropsOnFullQueueWithoutBlocking(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ch, cancel := bus.Subscribe("dev-1")
	defer cancel()

	for i := 0; i < SubscriberQueueCapacity+10; i++ {
		bus.Publish(model.SignalRecord{DeviceID: "dev-1"})
	}

	if len(ch) != SubscriberQueueCapacity {
		t.Fatalf("channel buffered len = %d, want %d", len(ch), SubscriberQueueCapacity)
	}
}

func TestSubscriberCountTracksActiveSubscriptions(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	if bus.SubscriberCount() != 0 {
		t.Fatal("expected zero subscribers initially")
	}
	_, cancel1 := bus.Subscribe("dev-1")
	_, cancel2 := bus.Subscribe("dev-2")
	if bus.SubscriberCount() != 2 {
		t.Fatalf("count = %d, want 2", bus.SubscriberCount())
	}
	cancel1()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1 after cancel", bus.SubscriberCount())
	}
	cancel2()
}

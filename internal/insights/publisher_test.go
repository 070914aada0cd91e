package insights

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopPublisher(t *testing.T) {
	pub := NewNoopPublisher()
	event := New(GroupConnection, "accepted", "CA123", nil)

	if err := pub.Publish(context.Background(), event); err != nil {
		t.Errorf("NoopPublisher.Publish() error = %v", err)
	}
	pub.PublishAsync(event)

	if err := pub.Close(); err != nil {
		t.Errorf("NoopPublisher.Close() error = %v", err)
	}
}

func TestChannelPublisher(t *testing.T) {
	pub := NewChannelPublisher(10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := pub.Publish(ctx, New(GroupSignaling, "ringing", "CA1", nil)); err != nil {
			t.Errorf("Publish() error = %v", err)
		}
	}

	ch := pub.Events()
	for i := 0; i < 5; i++ {
		select {
		case e := <-ch:
			if e.Group != GroupSignaling || e.Name != "ringing" {
				t.Errorf("got event %s/%s, want signaling/ringing", e.Group, e.Name)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}

	pub.Close()
}

func TestChannelPublisherDropsOnFull(t *testing.T) {
	pub := NewChannelPublisher(2)
	ctx := context.Background()

	pub.Publish(ctx, New(GroupConnection, "accepted", "CA1", nil))
	pub.Publish(ctx, New(GroupConnection, "accepted", "CA2", nil))

	// This should be dropped.
	pub.Publish(ctx, New(GroupConnection, "accepted", "CA3", nil))

	if got := pub.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}

	pub.Close()
}

func TestMetricsPublisher(t *testing.T) {
	reg := prometheus.NewRegistry()
	pub := NewMetricsPublisher(reg)

	pub.PublishAsync(New(GroupQuality, "warning-raised", "CA1", nil))
	pub.PublishAsync(New(GroupQuality, "warning-raised", "CA1", nil))
	pub.PublishAsync(New(GroupQuality, "warning-cleared", "CA1", nil))

	raised := testutil.ToFloat64(pub.events.WithLabelValues("quality", "warning-raised"))
	if raised != 2 {
		t.Errorf("warning-raised count = %v, want 2", raised)
	}
	cleared := testutil.ToFloat64(pub.events.WithLabelValues("quality", "warning-cleared"))
	if cleared != 1 {
		t.Errorf("warning-cleared count = %v, want 1", cleared)
	}
}

func TestMultiPublisher(t *testing.T) {
	ch1 := NewChannelPublisher(10)
	ch2 := NewChannelPublisher(10)

	multi := NewMultiPublisher(ch1, ch2)
	if err := multi.Publish(context.Background(), New(GroupFeedback, "posted", "CA1", nil)); err != nil {
		t.Errorf("MultiPublisher.Publish() error = %v", err)
	}

	select {
	case <-ch1.Events():
	case <-time.After(time.Second):
		t.Error("ch1 did not receive event")
	}

	select {
	case <-ch2.Events():
	case <-time.After(time.Second):
		t.Error("ch2 did not receive event")
	}

	multi.Close()
}

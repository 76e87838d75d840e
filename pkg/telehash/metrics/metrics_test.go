package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrementAndScrape(t *testing.T) {
	s := New()
	s.PacketSent()
	s.PacketSent()
	s.PacketDropped("replay")
	s.OpenCompleted()
	s.OpenTimedOut()
	s.OpenRejected("bad-signature")
	s.LineReplaced()
	s.SetLinesEstablished(3)
	s.SetWriteQueueDepth(7)

	if got := testutil.ToFloat64(s.packetsSent); got != 2 {
		t.Fatalf("packetsSent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.packetsDropped.WithLabelValues("replay")); got != 1 {
		t.Fatalf("packetsDropped[replay] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.opensRejected.WithLabelValues("bad-signature")); got != 1 {
		t.Fatalf("opensRejected[bad-signature] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.linesEstablished); got != 3 {
		t.Fatalf("linesEstablished = %v, want 3", got)
	}
	if got := testutil.ToFloat64(s.writeQueueDepth); got != 7 {
		t.Fatalf("writeQueueDepth = %v, want 7", got)
	}
}

func TestNilSetIsANoOp(t *testing.T) {
	var s *Set
	// None of these may panic on a nil receiver.
	s.PacketSent()
	s.PacketDropped("x")
	s.OpenCompleted()
	s.OpenTimedOut()
	s.OpenRejected("x")
	s.LineReplaced()
	s.SetLinesEstablished(1)
	s.SetWriteQueueDepth(1)
	if s.Registry() != nil {
		t.Fatal("nil Set.Registry() should return nil")
	}
}

func TestRegistryExposesRegisteredMetrics(t *testing.T) {
	s := New()
	mfs, err := s.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

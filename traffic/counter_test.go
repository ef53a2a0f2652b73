package traffic

import (
	"sync"
	"testing"
)

func TestInMemoryCounter_RecordAndGet(t *testing.T) {
	c := NewInMemoryCounter()
	c.RecordBytes("alice", "example.com:443", 100, 200)
	c.RecordBytes("alice", "example.com:443", 50, 25)

	in, out := c.GetUserTraffic("alice")
	if in != 150 || out != 225 {
		t.Fatalf("expected in=150 out=225, got in=%d out=%d", in, out)
	}
}

func TestInMemoryCounter_UnknownUser(t *testing.T) {
	c := NewInMemoryCounter()
	in, out := c.GetUserTraffic("nobody")
	if in != 0 || out != 0 {
		t.Fatalf("expected zero traffic for an unknown user, got in=%d out=%d", in, out)
	}
}

func TestInMemoryCounter_Snapshot(t *testing.T) {
	c := NewInMemoryCounter()
	c.RecordBytes("alice", "a.example", 10, 20)
	c.RecordBytes("bob", "b.example", 30, 40)

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 users in snapshot, got %d", len(snap))
	}
	if snap["alice"].BytesIn != 10 || snap["alice"].BytesOut != 20 {
		t.Fatalf("unexpected alice snapshot: %+v", snap["alice"])
	}
}

func TestInMemoryCounter_ConcurrentRecordBytes(t *testing.T) {
	c := NewInMemoryCounter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordBytes("alice", "example.com:443", 1, 2)
		}()
	}
	wg.Wait()

	in, out := c.GetUserTraffic("alice")
	if in != 50 || out != 100 {
		t.Fatalf("expected in=50 out=100 after concurrent writes, got in=%d out=%d", in, out)
	}
}

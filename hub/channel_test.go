package hub

import (
	"errors"
	"sync"
	"testing"
)

func TestNewChannel(t *testing.T) {
	ch := NewChannel("room-1", 4, CloseOnOverflow)
	if ch.ID() == "" {
		t.Error("NewChannel() returned empty ID")
	}
	if ch.RoomID() != "room-1" {
		t.Errorf("RoomID mismatch: got %q, want %q", ch.RoomID(), "room-1")
	}
	if ch.Label() != "" {
		t.Errorf("Expected no label, got %q", ch.Label())
	}

	other := NewChannel("room-1", 4, CloseOnOverflow)
	if ch.ID() == other.ID() {
		t.Error("Two channels share the same ID")
	}
}

func TestChannelSend(t *testing.T) {
	ch := NewChannel("room-1", 2, CloseOnOverflow)

	if _, err := ch.Send(Frame{Type: FrameUpdate, Payload: []byte(`1`)}); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	got := <-ch.Frames()
	if string(got.Payload) != "1" {
		t.Errorf("Payload mismatch: got %s, want 1", got.Payload)
	}
}

func TestChannelSend_CloseOnOverflow(t *testing.T) {
	ch := NewChannel("room-1", 1, CloseOnOverflow)

	if _, err := ch.Send(Frame{Type: FrameUpdate}); err != nil {
		t.Fatalf("First Send() failed: %v", err)
	}

	_, err := ch.Send(Frame{Type: FrameUpdate})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if !ch.Closed() {
		t.Error("Channel should be closed after overflow")
	}

	_, err = ch.Send(Frame{Type: FrameUpdate})
	if !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}
}

func TestChannelSend_DropOldest(t *testing.T) {
	ch := NewChannel("room-1", 2, DropOldest)

	for _, p := range []string{"1", "2", "3"} {
		if _, err := ch.Send(Frame{Type: FrameUpdate, Payload: []byte(p)}); err != nil {
			t.Fatalf("Send(%s) failed: %v", p, err)
		}
	}

	if ch.Closed() {
		t.Fatal("DropOldest must not close the channel")
	}

	first := <-ch.Frames()
	second := <-ch.Frames()
	if string(first.Payload) != "2" || string(second.Payload) != "3" {
		t.Errorf("Expected frames 2,3 got %s,%s", first.Payload, second.Payload)
	}
}

func TestChannelClose_RunsHookOnce(t *testing.T) {
	ch := NewChannel("room-1", 1, CloseOnOverflow)

	var mu sync.Mutex
	calls := 0
	ch.bind(func(*Channel) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Close()
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("Close hook ran %d times, want 1", calls)
	}

	select {
	case <-ch.Done():
	default:
		t.Error("Done() should be closed")
	}
}

func TestChannelBind_Closed(t *testing.T) {
	ch := NewChannel("room-1", 1, CloseOnOverflow)
	ch.Close()

	if ch.bind(func(*Channel) {}) {
		t.Error("bind() should fail on a closed channel")
	}
}

func TestChannelSetLabel_Once(t *testing.T) {
	ch := NewChannel("room-1", 1, CloseOnOverflow)

	if ch.setLabel("") {
		t.Error("Empty label should not be accepted")
	}
	if !ch.setLabel("alice") {
		t.Fatal("First setLabel() should succeed")
	}
	if ch.setLabel("bob") {
		t.Error("Second setLabel() should fail")
	}
	if ch.Label() != "alice" {
		t.Errorf("Label mismatch: got %q, want alice", ch.Label())
	}
}

func TestParsePolicies(t *testing.T) {
	if p, err := ParseOverflowPolicy("drop-oldest"); err != nil || p != DropOldest {
		t.Errorf("ParseOverflowPolicy(drop-oldest) = %v, %v", p, err)
	}
	if p, err := ParseOverflowPolicy(""); err != nil || p != CloseOnOverflow {
		t.Errorf("ParseOverflowPolicy(\"\") = %v, %v", p, err)
	}
	if _, err := ParseOverflowPolicy("block"); err == nil {
		t.Error("ParseOverflowPolicy(block) should fail")
	}

	if p, err := ParseExclusionPolicy("channel"); err != nil || p != ExcludeByChannel {
		t.Errorf("ParseExclusionPolicy(channel) = %v, %v", p, err)
	}
	if _, err := ParseExclusionPolicy("nobody"); err == nil {
		t.Error("ParseExclusionPolicy(nobody) should fail")
	}
}

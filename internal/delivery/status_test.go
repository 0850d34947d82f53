package delivery

import "testing"

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Sending, Sent},
		{Sending, Failed},
		{Sent, Delivered},
		{Sent, Read},
		{Delivered, Read},
		{Failed, Sending},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if err := Advance(tt.from, tt.to); err != nil {
				t.Errorf("Advance(%s, %s) error = %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Read, Delivered},
		{Read, Sent},
		{Delivered, Sent},
		{Delivered, Sending},
		{Sent, Sending},
		{Delivered, Failed},
		{Read, Failed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if err := Advance(tt.from, tt.to); err == nil {
				t.Errorf("Advance(%s, %s) should fail", tt.from, tt.to)
			}
		})
	}
}

func TestAdvanceSameStateIsNoop(t *testing.T) {
	for _, s := range []Status{Sending, Sent, Delivered, Read, Failed} {
		if err := Advance(s, s); err != nil {
			t.Errorf("Advance(%s, %s) error = %v", s, s, err)
		}
	}
}

// TestMergeIsMonotonic verifies that out-of-order change events never move a
// message backwards: once read, always read.
func TestMergeIsMonotonic(t *testing.T) {
	tests := []struct {
		current  Status
		incoming Status
		want     Status
	}{
		{Sending, Sent, Sent},
		{Sent, Delivered, Delivered},
		{Delivered, Read, Read},
		{Read, Delivered, Read},
		{Read, Sent, Read},
		{Delivered, Sent, Delivered},
		{Sent, Sending, Sent},
	}
	for _, tt := range tests {
		if got := Merge(tt.current, tt.incoming); got != tt.want {
			t.Errorf("Merge(%s, %s) = %s, want %s", tt.current, tt.incoming, got, tt.want)
		}
	}
}

func TestMergeFailed(t *testing.T) {
	// A send that never got acknowledged may fail.
	if got := Merge(Sending, Failed); got != Failed {
		t.Errorf("Merge(sending, failed) = %s, want failed", got)
	}
	// A late failure event must not undo an acknowledged send.
	if got := Merge(Sent, Failed); got != Sent {
		t.Errorf("Merge(sent, failed) = %s, want sent", got)
	}
	// Retry: failed goes back to sending.
	if got := Merge(Failed, Sending); got != Sending {
		t.Errorf("Merge(failed, sending) = %s, want sending", got)
	}
}

func TestTickFor(t *testing.T) {
	tests := []struct {
		status Status
		want   Tick
	}{
		{Sending, TickNone},
		{Failed, TickNone},
		{Sent, TickSingle},
		{Delivered, TickDouble},
		{Read, TickDoubleBlue},
	}
	for _, tt := range tests {
		if got := TickFor(tt.status); got != tt.want {
			t.Errorf("TickFor(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

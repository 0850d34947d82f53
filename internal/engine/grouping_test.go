package engine

import (
	"testing"
	"time"

	"github.com/parley-im/parley/internal/model"
)

func TestGroupByDay(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, loc)
	day := func(y int, m time.Month, d, h int) int64 {
		return time.Date(y, m, d, h, 0, 0, 0, loc).UnixMilli()
	}

	msgs := []model.Message{
		{ID: "m1", Timestamp: day(2025, 6, 13, 9)},
		{ID: "m2", Timestamp: day(2025, 6, 14, 10)},
		{ID: "m3", Timestamp: day(2025, 6, 14, 11)},
		{ID: "m4", Timestamp: day(2025, 6, 15, 8)},
	}

	groups := GroupByDay(msgs, loc, now)
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	if groups[0].Label != "June 13, 2025" {
		t.Errorf("label = %q", groups[0].Label)
	}
	if groups[1].Label != "Yesterday" || len(groups[1].Messages) != 2 {
		t.Errorf("group = %q with %d messages, want Yesterday with 2", groups[1].Label, len(groups[1].Messages))
	}
	if groups[2].Label != "Today" {
		t.Errorf("label = %q, want Today", groups[2].Label)
	}
}

func TestGroupByDayEmpty(t *testing.T) {
	if groups := GroupByDay(nil, time.UTC, time.Now()); groups != nil {
		t.Errorf("groups = %v, want nil", groups)
	}
}

func TestShowTail(t *testing.T) {
	msgs := []model.Message{
		{ID: "m1", SenderID: "alice"},
		{ID: "m2", SenderID: "alice"},
		{ID: "m3", SenderID: "bob"},
	}
	want := []bool{false, true, true}
	for i, w := range want {
		if got := ShowTail(msgs, i); got != w {
			t.Errorf("ShowTail(%d) = %v, want %v", i, got, w)
		}
	}
	if ShowTail(msgs, 99) {
		t.Error("out-of-range index should be false")
	}
}

package engine

import (
	"time"

	"github.com/parley-im/parley/internal/model"
)

// DateGroup is a run of messages from one calendar day, for rendering a
// conversation with day separators.
type DateGroup struct {
	Label    string
	Day      time.Time
	Messages []model.Message
}

// GroupByDay splits a timestamp-ordered message list into per-day groups in
// the given location. The label is Today, Yesterday, or the full date.
func GroupByDay(msgs []model.Message, loc *time.Location, now time.Time) []DateGroup {
	if loc == nil {
		loc = time.Local
	}
	today := dayOf(now.In(loc))

	var groups []DateGroup
	for _, m := range msgs {
		day := dayOf(time.UnixMilli(m.Timestamp).In(loc))
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DateGroup{
			Label:    dayLabel(day, today),
			Day:      day,
			Messages: []model.Message{m},
		})
	}
	return groups
}

// ShowTail reports whether the message at index i ends a run of consecutive
// messages from the same sender. Only the last message of a run gets the
// bubble tail and avatar.
func ShowTail(msgs []model.Message, i int) bool {
	if i < 0 || i >= len(msgs) {
		return false
	}
	if i == len(msgs)-1 {
		return true
	}
	return msgs[i].SenderID != msgs[i+1].SenderID
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayLabel(day, today time.Time) string {
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("January 2, 2006")
	}
}

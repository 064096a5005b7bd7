// Package report computes mailbox statistics from message metadata and
// renders them as terminal tables.
package report

import (
	"sort"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
)

// Options controls which statistics are computed.
type Options struct {
	// Top limits sender and day listings.
	Top int

	// InactiveDays enables the inactive sender listing when positive.
	InactiveDays int

	// Now is the reference time for inactivity. Defaults to time.Now.
	Now time.Time
}

// Stats are mailbox-wide totals.
type Stats struct {
	Total     int
	Senders   int
	FirstDate string
	LastDate  string
	AvgPerDay float64
}

// SenderCount is the number of messages from one sender.
type SenderCount struct {
	Sender string
	Count  int
}

// DayCount is the number of messages on one calendar day.
type DayCount struct {
	Day   string
	Count int
}

// Year summarizes one calendar year.
type Year struct {
	Year    int
	Total   int
	Busiest []DayCount
}

// InactiveSender is a sender whose newest message is older than the
// threshold.
type InactiveSender struct {
	Sender    string
	LastDate  string
	DaysSince int
}

// Report holds every computed statistic.
type Report struct {
	Options    Options
	Stats      Stats
	TopSenders []SenderCount
	Years      []Year
	Inactive   []InactiveSender
}

type dated struct {
	from string
	raw  string
	at   time.Time
}

// Analyze computes a report over coll. Records with an absent or
// unparseable Date header count toward totals and senders only.
func Analyze(coll *mail.Collection, opts Options) *Report {
	if opts.Top < 1 {
		opts.Top = 10
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	r := &Report{Options: opts}
	senders := make(map[string]int)
	var withDate []dated

	for _, md := range coll.Items() {
		r.Stats.Total++
		if md.Fields.From != nil {
			senders[*md.Fields.From]++
		}
		if md.Fields.Date == nil {
			continue
		}
		at, ok := ParseDate(*md.Fields.Date)
		if !ok {
			continue
		}
		withDate = append(withDate, dated{from: mail.Value(md.Fields.From), raw: *md.Fields.Date, at: at})
	}
	r.Stats.Senders = len(senders)

	r.TopSenders = topSenders(senders, opts.Top)
	r.computeDates(withDate)
	if opts.InactiveDays > 0 {
		r.Inactive = inactive(withDate, opts)
	}
	return r
}

// ParseDate parses an RFC 5322 Date header value.
func ParseDate(v string) (time.Time, bool) {
	var h gomail.Header
	h.Set("Date", strings.TrimSpace(v))
	t, err := h.Date()
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

func topSenders(counts map[string]int, n int) []SenderCount {
	out := make([]SenderCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, SenderCount{Sender: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sender < out[j].Sender
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (r *Report) computeDates(msgs []dated) {
	if len(msgs) == 0 {
		return
	}

	first, last := msgs[0], msgs[0]
	days := make(map[int]map[string]int)
	for _, m := range msgs {
		if m.at.Before(first.at) {
			first = m
		}
		if m.at.After(last.at) {
			last = m
		}
		y := m.at.Year()
		if days[y] == nil {
			days[y] = make(map[string]int)
		}
		days[y][m.at.Format(time.DateOnly)]++
	}

	r.Stats.FirstDate = first.raw
	r.Stats.LastDate = last.raw
	if span := int(last.at.Sub(first.at).Hours() / 24); span >= 1 {
		r.Stats.AvgPerDay = float64(r.Stats.Total) / float64(span)
	}

	for y, perDay := range days {
		year := Year{Year: y}
		for d, c := range perDay {
			year.Total += c
			year.Busiest = append(year.Busiest, DayCount{Day: d, Count: c})
		}
		sort.Slice(year.Busiest, func(i, j int) bool {
			if year.Busiest[i].Count != year.Busiest[j].Count {
				return year.Busiest[i].Count > year.Busiest[j].Count
			}
			return year.Busiest[i].Day < year.Busiest[j].Day
		})
		if len(year.Busiest) > r.Options.Top {
			year.Busiest = year.Busiest[:r.Options.Top]
		}
		r.Years = append(r.Years, year)
	}
	sort.Slice(r.Years, func(i, j int) bool { return r.Years[i].Year < r.Years[j].Year })
}

func inactive(msgs []dated, opts Options) []InactiveSender {
	newest := make(map[string]dated)
	for _, m := range msgs {
		if m.from == "" {
			continue
		}
		if cur, ok := newest[m.from]; !ok || m.at.After(cur.at) {
			newest[m.from] = m
		}
	}

	var out []InactiveSender
	for s, m := range newest {
		since := int(opts.Now.Sub(m.at).Hours() / 24)
		if since > opts.InactiveDays {
			out = append(out, InactiveSender{Sender: s, LastDate: m.raw, DaysSince: since})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DaysSince != out[j].DaysSince {
			return out[i].DaysSince > out[j].DaysSince
		}
		return out[i].Sender < out[j].Sender
	})
	if len(out) > opts.Top {
		out = out[:opts.Top]
	}
	return out
}

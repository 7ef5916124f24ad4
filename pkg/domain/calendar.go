package domain

import "time"

// Season is the span of days shown on the heatmap: 1 August through 31 May.
type Season struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// SeasonFor returns the season containing asOf. August onward belongs to the
// season starting that year; January through July to the one started the
// previous August.
func SeasonFor(asOf time.Time) Season {
	year := asOf.Year()
	if asOf.Month() < time.August {
		year--
	}
	start := time.Date(year, time.August, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, time.May, 31, 0, 0, 0, 0, time.UTC)
	return Season{Start: DateOf(start), End: DateOf(end)}
}

// Days returns every date of the season in order.
func (s Season) Days() []Date {
	n := s.Start.DaysUntil(s.End) + 1
	if n <= 0 {
		return nil
	}
	out := make([]Date, n)
	for i := range out {
		out[i] = s.Start.AddDays(i)
	}
	return out
}

// CalendarDay is one heatmap cell.
type CalendarDay struct {
	Date    Date       `json:"date"`
	Weekday int        `json:"weekday"`
	Entry   DailyEntry `json:"entry"`
	Visited bool       `json:"visited"`
}

// MonthLabel positions a month name above the heatmap. Weeks is the number of
// Sunday-first week columns the month's days touch.
type MonthLabel struct {
	Month string `json:"month"`
	Weeks int    `json:"weeks"`
}

// Calendar is the heatmap data for one season.
type Calendar struct {
	Season Season        `json:"season"`
	Months []MonthLabel  `json:"months"`
	Days   []CalendarDay `json:"days"`
}

// BuildCalendar lays r out over season s.
func BuildCalendar(r VisitRecord, s Season) Calendar {
	days := s.Days()
	cal := Calendar{Season: s, Days: make([]CalendarDay, 0, len(days))}
	for _, d := range days {
		e := r[d].Clamp()
		cal.Days = append(cal.Days, CalendarDay{
			Date:    d,
			Weekday: int(d.Time().Weekday()),
			Entry:   e,
			Visited: e.Any(),
		})
	}
	cal.Months = monthLabels(days)
	return cal
}

func monthLabels(days []Date) []MonthLabel {
	var out []MonthLabel
	for i := 0; i < len(days); {
		first := days[i].Time()
		j := i
		for j < len(days) && days[j].Time().Month() == first.Month() {
			j++
		}
		numDays := j - i
		weeks := (numDays + int(first.Weekday()) + 6) / 7
		out = append(out, MonthLabel{Month: first.Month().String()[:3], Weeks: weeks})
		i = j
	}
	return out
}

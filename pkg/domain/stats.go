package domain

import "time"

// HotStreakDays is the longest-streak length at which a summary row is
// highlighted.
const HotStreakDays = 5

// TotalVisits sums facility f's flags across every date.
func TotalVisits(r VisitRecord, f Facility) int {
	total := 0
	for _, e := range r {
		if e.Visited(f) {
			total++
		}
	}
	return total
}

// VisitsBetween sums facility f's flags over dates in the inclusive window.
func VisitsBetween(r VisitRecord, f Facility, from, to Date) int {
	total := 0
	for d, e := range r {
		if d.Within(from, to) && e.Visited(f) {
			total++
		}
	}
	return total
}

// visitedDates returns the dates facility f was visited, ascending.
func visitedDates(r VisitRecord, f Facility) []Date {
	out := make([]Date, 0, len(r))
	for _, d := range r.Dates() {
		if r[d].Visited(f) {
			out = append(out, d)
		}
	}
	return out
}

// LongestStreak returns the longest run of calendar-consecutive dates on which
// facility f was visited.
func LongestStreak(r VisitRecord, f Facility) int {
	dates := visitedDates(r, f)
	if len(dates) == 0 {
		return 0
	}
	longest, current := 1, 1
	for i := 1; i < len(dates); i++ {
		if dates[i-1].DaysUntil(dates[i]) == 1 {
			current++
			if current > longest {
				longest = current
			}
			continue
		}
		current = 1
	}
	return longest
}

// CurrentStreak returns the length of the run ending at facility f's most
// recent visit. A run whose last visit is more than one day before today has
// ended and counts as 0.
func CurrentStreak(r VisitRecord, f Facility, today Date) int {
	dates := visitedDates(r, f)
	if len(dates) == 0 {
		return 0
	}
	last := dates[len(dates)-1]
	if gap := last.DaysUntil(today); gap > 1 {
		return 0
	}
	streak := 1
	for i := len(dates) - 1; i > 0; i-- {
		if dates[i-1].DaysUntil(dates[i]) != 1 {
			break
		}
		streak++
	}
	return streak
}

// MonthWindow returns the first and last day of the month offset months from
// asOf's month; offset 0 is the current month and -1 the previous one.
func MonthWindow(asOf time.Time, offset int) (from, to Date) {
	start := time.Date(asOf.Year(), asOf.Month()+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return DateOf(start), DateOf(end)
}

// FacilitySummary is one row of the per-facility statistics table. Active is
// false when the facility has no visits last month, this month or in total;
// displays hide such rows.
type FacilitySummary struct {
	Facility      string `json:"facility"`
	Code          string `json:"code"`
	LastMonth     int    `json:"lastMonth"`
	ThisMonth     int    `json:"thisMonth"`
	Total         int    `json:"total"`
	LongestStreak int    `json:"longestStreak"`
	CurrentStreak int    `json:"currentStreak"`
	HotStreak     bool   `json:"hotStreak"`
	Active        bool   `json:"active"`
}

// Summarize computes the statistics table for every facility as of asOf.
func Summarize(r VisitRecord, asOf time.Time) []FacilitySummary {
	lastFrom, lastTo := MonthWindow(asOf, -1)
	thisFrom, thisTo := MonthWindow(asOf, 0)
	today := DateOf(asOf)
	out := make([]FacilitySummary, 0, FacilityCount)
	for _, f := range AllFacilities() {
		longest := LongestStreak(r, f)
		row := FacilitySummary{
			Facility:      f.Name(),
			Code:          f.Code(),
			LastMonth:     VisitsBetween(r, f, lastFrom, lastTo),
			ThisMonth:     VisitsBetween(r, f, thisFrom, thisTo),
			Total:         TotalVisits(r, f),
			LongestStreak: longest,
			CurrentStreak: CurrentStreak(r, f, today),
			HotStreak:     longest >= HotStreakDays,
		}
		row.Active = row.LastMonth != 0 || row.ThisMonth != 0 || row.Total != 0
		out = append(out, row)
	}
	return out
}

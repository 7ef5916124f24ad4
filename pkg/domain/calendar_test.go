package domain

import (
	"testing"
	"time"
)

func TestSeasonFor(t *testing.T) {
	cases := []struct {
		asOf time.Time
		want Season
	}{
		{time.Date(2024, time.September, 15, 0, 0, 0, 0, time.UTC), Season{"2024-08-01", "2025-05-31"}},
		{time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), Season{"2024-08-01", "2025-05-31"}},
		{time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC), Season{"2024-08-01", "2025-05-31"}},
		{time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC), Season{"2025-08-01", "2026-05-31"}},
	}
	for _, tc := range cases {
		if got := SeasonFor(tc.asOf); got != tc.want {
			t.Fatalf("SeasonFor(%s): got %+v want %+v", tc.asOf.Format(DateLayout), got, tc.want)
		}
	}
}

func TestBuildCalendar(t *testing.T) {
	s := Season{Start: "2024-08-01", End: "2025-05-31"}
	r := VisitRecord{"2024-08-01": {0, 1}, "2025-05-31": {1, 0}, "2025-06-01": {1, 1}}
	cal := BuildCalendar(r, s)
	if len(cal.Days) != 304 {
		t.Fatalf("expected 304 days, got %d", len(cal.Days))
	}
	first := cal.Days[0]
	if first.Date != "2024-08-01" || !first.Visited || first.Weekday != int(time.Thursday) {
		t.Fatalf("unexpected first day %+v", first)
	}
	if last := cal.Days[len(cal.Days)-1]; last.Date != "2025-05-31" || !last.Visited {
		t.Fatalf("unexpected last day %+v", last)
	}
	if cal.Days[1].Visited {
		t.Fatalf("day without entry marked visited")
	}
	if len(cal.Months) != 10 {
		t.Fatalf("expected 10 month labels, got %d", len(cal.Months))
	}
	// August 2024 starts on a Thursday: 31 days + 4 leading cells = 5 week columns.
	if cal.Months[0].Month != "Aug" || cal.Months[0].Weeks != 5 {
		t.Fatalf("unexpected first label %+v", cal.Months[0])
	}
	if cal.Months[9].Month != "May" {
		t.Fatalf("unexpected last label %+v", cal.Months[9])
	}
}

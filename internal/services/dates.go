package services

import "time"

const DateLayout = "2006-01-02"

// NextWorkingDays returns the date n weekdays after from.
func NextWorkingDays(from time.Time, n int) time.Time {
	d := from
	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)
		if isWeekday(d) {
			added++
		}
	}
	return d
}

// LastWeekdayOfNextMonth is the opportunity close date for a submission made
// at now.
func LastWeekdayOfNextMonth(now time.Time) time.Time {
	// Day 0 of the month after next is the last day of next month.
	d := time.Date(now.Year(), now.Month()+2, 0, 0, 0, 0, 0, now.Location())
	for !isWeekday(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func isWeekday(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

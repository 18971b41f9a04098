package agenda

import "time"

const DefaultHorizonDays = 90

// DayPolicy controls whether the nearest offerable day is withheld when
// booking has become imminent: "now" already falls on a non-business day, or
// the local hour has reached CutoffHour. CutoffHour of 0 disables the hour
// prong.
type DayPolicy struct {
	DropImminentDay bool
	CutoffHour      int
}

// DateKey formats a date for set membership lookups.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// HolidaySet indexes holiday dates by DateKey.
func HolidaySet(holidays []time.Time) map[string]struct{} {
	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		set[DateKey(h)] = struct{}{}
	}
	return set
}

// Days returns the offerable dates for an office: tomorrow through
// now+horizonDays, excluding Saturdays, Sundays and holidays. Deterministic
// given its inputs; "now" is always injected by the caller.
func Days(now time.Time, horizonDays int, holidays map[string]struct{}, policy DayPolicy) []time.Time {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	today := Midnight(now)

	var days []time.Time
	for n := 1; n <= horizonDays; n++ {
		d := today.AddDate(0, 0, n)
		if !IsBusinessDay(d, holidays) {
			continue
		}
		days = append(days, d)
	}

	if policy.DropImminentDay && len(days) > 0 {
		pastCutoff := policy.CutoffHour > 0 && now.Hour() >= policy.CutoffHour
		if !IsBusinessDay(today, holidays) || pastCutoff {
			days = days[1:]
		}
	}
	return days
}

// IsBusinessDay reports whether d is neither a weekend day nor a holiday.
func IsBusinessDay(d time.Time, holidays map[string]struct{}) bool {
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := holidays[DateKey(d)]
	return !holiday
}

// Midnight truncates t to the start of its day, keeping the location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

package domain

import "time"

// PeriodBounds returns the [start, end) bounds of the period containing the
// instant. Rules are fixed calendar arithmetic in UTC: hourly starts at the
// top of the hour, daily at midnight, weekly on Monday, monthly on the 1st,
// quarterly on Jan/Apr/Jul/Oct 1st, yearly on Jan 1. Computing bounds twice
// for the same instant yields identical values.
func PeriodBounds(period Period, at time.Time) (time.Time, time.Time, error) {
	at = at.UTC()
	switch period {
	case PeriodHourly:
		start := at.Truncate(time.Hour)
		return start, start.Add(time.Hour), nil
	case PeriodDaily:
		start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1), nil
	case PeriodWeekly:
		start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		// Monday-start weeks; Go's Weekday has Sunday == 0.
		offset := (int(start.Weekday()) + 6) % 7
		start = start.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case PeriodMonthly:
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	case PeriodQuarterly:
		quarterMonth := time.Month(((int(at.Month())-1)/3)*3 + 1)
		start := time.Date(at.Year(), quarterMonth, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 3, 0), nil
	case PeriodYearly:
		start := time.Date(at.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, time.Time{}, ErrInvalidPeriod
	}
}

// PreviousPeriodStart returns the start of the period immediately before the
// one containing the instant.
func PreviousPeriodStart(period Period, at time.Time) (time.Time, error) {
	start, _, err := PeriodBounds(period, at)
	if err != nil {
		return time.Time{}, err
	}
	return StepBack(period, start, 1), nil
}

// StepBack moves a period start backwards by n whole periods.
func StepBack(period Period, start time.Time, n int) time.Time {
	switch period {
	case PeriodHourly:
		return start.Add(-time.Duration(n) * time.Hour)
	case PeriodDaily:
		return start.AddDate(0, 0, -n)
	case PeriodWeekly:
		return start.AddDate(0, 0, -7*n)
	case PeriodMonthly:
		return start.AddDate(0, -n, 0)
	case PeriodQuarterly:
		return start.AddDate(0, -3*n, 0)
	case PeriodYearly:
		return start.AddDate(-n, 0, 0)
	default:
		return start
	}
}

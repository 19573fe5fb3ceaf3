package action

import (
	"time"
	_ "time/tzdata"
)

// FallbackTimezone is used when neither the sender nor the configuration
// names a loadable zone.
const FallbackTimezone = "America/Montreal"

// Dates are the relative days the extraction prompt pins to calendar dates.
type Dates struct {
	Today     string
	Tomorrow  string
	Yesterday string
	Weekday   string
	Location  *time.Location
}

// ResolveDates computes today, tomorrow and yesterday as YYYY-MM-DD in tz.
// An empty or unknown tz falls back to fallbackTZ, then FallbackTimezone, then UTC.
func ResolveDates(now time.Time, tz, fallbackTZ string) Dates {
	loc := loadLocation(tz, fallbackTZ, FallbackTimezone)
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, loc)

	return Dates{
		Today:     day.Format(time.DateOnly),
		Tomorrow:  day.AddDate(0, 0, 1).Format(time.DateOnly),
		Yesterday: day.AddDate(0, 0, -1).Format(time.DateOnly),
		Weekday:   day.Weekday().String(),
		Location:  loc,
	}
}

func loadLocation(names ...string) *time.Location {
	for _, name := range names {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

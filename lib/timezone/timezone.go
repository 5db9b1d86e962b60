package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
}

// force timezone to be central time because the dealership fleet is
// st. louis centered and our servers sometimes end up on either coast,
// which causes disturbances when bucketing dates based on
// <time.Time>.Year()/Month()/Day()
func Now() time.Time {
	return time.Now().In(Location)
}

// DayLayout is the canonical day-granular date format used by every
// store in the pipeline.
const DayLayout = "2006-01-02"

func Day(t time.Time) string {
	return t.In(Location).Format(DayLayout)
}

func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, Location)
}

func StartOfDay(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// DaysAgo returns the start of the day `n` days before `t`.
func DaysAgo(t time.Time, n int) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day()-n, 0, 0, 0, 0, Location)
}

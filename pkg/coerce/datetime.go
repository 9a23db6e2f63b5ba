package coerce

import (
	"encoding/binary"
	"fmt"
	"time"
)

// TicksPerSecond is the resolution of the DATETIME time-of-day field.
const TicksPerSecond = 300

const secondsPerDay = 86400

var tdsEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateRec is a cracked calendar value. Month is always 1-based; values
// coming from clients that count months from zero are normalized with
// DateRecFromZeroBasedMonth before use.
type DateRec struct {
	Year        int
	Month       int // 1..12
	Day         int // 1..31
	DayOfYear   int // 1..366
	Weekday     time.Weekday
	Hour        int
	Minute      int
	Second      int
	Millisecond int
}

// DateRecFromZeroBasedMonth builds a DateRec from fields whose month
// counts from 0 for January.
func DateRecFromZeroBasedMonth(year, month0, day, hour, minute, second, millisecond int) DateRec {
	rec := DateRec{
		Year:        year,
		Month:       month0 + 1,
		Day:         day,
		Hour:        hour,
		Minute:      minute,
		Second:      second,
		Millisecond: millisecond,
	}
	if rec.Validate() == nil {
		t := time.Date(year, time.Month(rec.Month), day, 0, 0, 0, 0, time.UTC)
		rec.DayOfYear = t.YearDay()
		rec.Weekday = t.Weekday()
	}
	return rec
}

// Validate reports whether every field is in range.
func (d DateRec) Validate() error {
	switch {
	case d.Month < 1 || d.Month > 12:
		return fmt.Errorf("month %d out of range", d.Month)
	case d.Day < 1 || d.Day > daysIn(d.Year, d.Month):
		return fmt.Errorf("day %d out of range for %04d-%02d", d.Day, d.Year, d.Month)
	case d.Hour < 0 || d.Hour > 23:
		return fmt.Errorf("hour %d out of range", d.Hour)
	case d.Minute < 0 || d.Minute > 59:
		return fmt.Errorf("minute %d out of range", d.Minute)
	case d.Second < 0 || d.Second > 59:
		return fmt.Errorf("second %d out of range", d.Second)
	case d.Millisecond < 0 || d.Millisecond > 999:
		return fmt.Errorf("millisecond %d out of range", d.Millisecond)
	}
	return nil
}

// Timestamp composes the cracked fields into a UTC timestamp. The seconds
// component is second + millisecond/1000.
func (d DateRec) Timestamp() (time.Time, error) {
	if err := d.Validate(); err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second,
		d.Millisecond*int(time.Millisecond), time.UTC), nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CrackDatetime splits an 8 byte DATETIME value into calendar fields.
// The value is a little-endian int32 day count from 1900-01-01 followed by
// a uint32 count of 1/300 second ticks since midnight. Ticks are rounded
// to the nearest millisecond, so the last tick of a second reads as .997.
func CrackDatetime(raw []byte) (DateRec, error) {
	if len(raw) != 8 {
		return DateRec{}, fmt.Errorf("datetime value must be 8 bytes, got %d", len(raw))
	}
	days := int32(binary.LittleEndian.Uint32(raw[0:4]))
	ticks := binary.LittleEndian.Uint32(raw[4:8])
	if ticks >= secondsPerDay*TicksPerSecond {
		return DateRec{}, fmt.Errorf("datetime tick count %d out of range", ticks)
	}

	seconds := int(ticks / TicksPerSecond)
	ms := (int(ticks%TicksPerSecond)*1000 + TicksPerSecond/2) / TicksPerSecond
	return crack(int(days), seconds, ms), nil
}

// CrackDatetime4 splits a 4 byte DATETIME4 value: a little-endian uint16
// day count from 1900-01-01 followed by a uint16 minute count.
func CrackDatetime4(raw []byte) (DateRec, error) {
	if len(raw) != 4 {
		return DateRec{}, fmt.Errorf("datetime4 value must be 4 bytes, got %d", len(raw))
	}
	days := binary.LittleEndian.Uint16(raw[0:2])
	minutes := binary.LittleEndian.Uint16(raw[2:4])
	if int(minutes) >= 24*60 {
		return DateRec{}, fmt.Errorf("datetime4 minute count %d out of range", minutes)
	}
	return crack(int(days), int(minutes)*60, 0), nil
}

func crack(days, seconds, ms int) DateRec {
	day := tdsEpoch.AddDate(0, 0, days)
	return DateRec{
		Year:        day.Year(),
		Month:       int(day.Month()),
		Day:         day.Day(),
		DayOfYear:   day.YearDay(),
		Weekday:     day.Weekday(),
		Hour:        seconds / 3600,
		Minute:      seconds % 3600 / 60,
		Second:      seconds % 60,
		Millisecond: ms,
	}
}

// daysSinceEpoch counts whole days from 1900-01-01 to the calendar date of t.
func daysSinceEpoch(t time.Time) int64 {
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return (date.Unix() - tdsEpoch.Unix()) / secondsPerDay
}

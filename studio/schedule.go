package studio

import (
	"fmt"
	"time"

	"github.com/amg/studio-ledger/generic"
)

// SlotTemplate is one recurring class in the weekly timetable.
type SlotTemplate struct {
	Start       string // "HH:MM" local time
	Minutes     int
	Category    Category
	Subtype     string
	MaxCapacity int
	Price       generic.Money
}

// WeeklyTemplate maps weekdays to their slots. Days without slots are closed.
type WeeklyTemplate struct {
	Slots      map[time.Weekday][]SlotTemplate
	Instructor string
	Location   string
	Address    string
	TimeZone   *time.Location
}

// Generate expands the template into sessions for days starting at from
// (inclusive). Weekends are skipped. Session ids are
// <date>-<weekday>-<slot index>, so regenerating the same range yields the
// same ids.
func (w WeeklyTemplate) Generate(from time.Time, days int) ([]ClassSession, error) {
	loc := w.TimeZone
	if loc == nil {
		loc = time.UTC
	}
	day := generic.StartOfDay(from.In(loc))

	var out []ClassSession
	for i := 0; i < days; i++ {
		date := day.AddDate(0, 0, i)
		if generic.IsWeekend(date) {
			continue
		}
		for idx, slot := range w.Slots[date.Weekday()] {
			start, err := slotStart(date, slot.Start)
			if err != nil {
				return nil, err
			}
			out = append(out, ClassSession{
				ID:          generic.ClassID(fmt.Sprintf("%s-%d-%d", date.Format(time.DateOnly), int(date.Weekday()), idx)),
				StartsAt:    start,
				EndsAt:      start.Add(time.Duration(slot.Minutes) * time.Minute),
				Category:    slot.Category,
				Subtype:     slot.Subtype,
				Instructor:  w.Instructor,
				Location:    w.Location,
				Address:     w.Address,
				MaxCapacity: slot.MaxCapacity,
				Price:       slot.Price,
			})
		}
	}
	return out, nil
}

func slotStart(date time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, newError(CodeInvalidArgument, "slot start %q: want HH:MM", hhmm)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

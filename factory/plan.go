/*
Package factory provides JSON to Go conversion for the studio catalogue.

PURPOSE:
  Converts JSON plan and timetable definitions into studio.Plan and
  studio.WeeklyTemplate values. Staff can change prices or the weekly
  timetable without a code change: point plans.path / schedule.path at a
  file, or rely on the embedded defaults.

JSON SCHEMA (plans):
  {
    "plans": [
      {
        "id": "personal-1",
        "type": "membership",
        "category": "personal",
        "name": "Personal (1x/week)",
        "credits": 5,
        "per_week": 1,
        "validity_weeks": 5,
        "price": "110.00",
        "currency": "EUR"
      }
    ]
  }

JSON SCHEMA (schedule):
  {
    "instructor": "AMG Pilates",
    "timezone": "Europe/Madrid",
    "currency": "EUR",
    "days": {
      "monday": [
        {"start": "09:30", "minutes": 60, "category": "group",
         "subtype": "Grupos Spine Corrector 7", "max_capacity": 7, "price": "10.00"}
      ]
    }
  }

USAGE:
  f := factory.NewPlanFactory()
  plans, err := f.DefaultPlans()
  tpl, err := f.DefaultSchedule()
  sessions, err := tpl.Generate(time.Now(), 35)

SEE ALSO:
  - studio/plan.go: Plan and PlanSet
  - studio/schedule.go: WeeklyTemplate.Generate
*/
package factory

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

//go:embed data/plans.json
var defaultPlans []byte

//go:embed data/schedule.json
var defaultSchedule []byte

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type CatalogJSON struct {
	Plans []PlanJSON `json:"plans"`
}

// PlanJSON is the JSON representation of a plan.
type PlanJSON struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Category      string `json:"category"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Credits       int    `json:"credits"`
	PerWeek       int    `json:"per_week,omitempty"`
	ValidityWeeks int    `json:"validity_weeks,omitempty"`
	Price         string `json:"price"`
	Currency      string `json:"currency,omitempty"` // default EUR
}

type ScheduleJSON struct {
	Instructor string                `json:"instructor"`
	Location   string                `json:"location"`
	Address    string                `json:"address"`
	TimeZone   string                `json:"timezone"`
	Currency   string                `json:"currency"`
	Days       map[string][]SlotJSON `json:"days"`
}

type SlotJSON struct {
	Start       string `json:"start"`
	Minutes     int    `json:"minutes"`
	Category    string `json:"category"`
	Subtype     string `json:"subtype"`
	MaxCapacity int    `json:"max_capacity"`
	Price       string `json:"price"`
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

type PlanFactory struct {
	// DefaultValidityWeeks applies to plans that do not set validity_weeks.
	DefaultValidityWeeks int
}

func NewPlanFactory() *PlanFactory {
	return &PlanFactory{DefaultValidityWeeks: studio.DefaultValidityWeeks}
}

// ParsePlans parses a plan catalogue document.
func (f *PlanFactory) ParsePlans(data []byte) (*studio.PlanSet, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse plans JSON: %w", err)
	}
	plans := make([]studio.Plan, 0, len(cj.Plans))
	for _, pj := range cj.Plans {
		p, err := f.FromJSON(pj)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return studio.NewPlanSet(plans...)
}

// FromJSON converts one PlanJSON into a studio.Plan.
func (f *PlanFactory) FromJSON(pj PlanJSON) (studio.Plan, error) {
	price, err := parseMoney(pj.Price, pj.Currency)
	if err != nil {
		return studio.Plan{}, fmt.Errorf("plan %s: %w", pj.ID, err)
	}
	p := studio.Plan{
		ID:            pj.ID,
		Type:          studio.PlanType(pj.Type),
		Category:      pj.Category,
		Name:          pj.Name,
		Description:   pj.Description,
		Credits:       pj.Credits,
		PerWeek:       pj.PerWeek,
		ValidityWeeks: pj.ValidityWeeks,
		Price:         price,
	}
	if p.ValidityWeeks == 0 && !p.IsAnnualFee() {
		p.ValidityWeeks = f.DefaultValidityWeeks
	}
	if err := p.Validate(); err != nil {
		return studio.Plan{}, err
	}
	return p, nil
}

// LoadPlans reads the catalogue from path, or the embedded default when
// path is empty.
func (f *PlanFactory) LoadPlans(path string) (*studio.PlanSet, error) {
	if path == "" {
		return f.DefaultPlans()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans %s: %w", path, err)
	}
	return f.ParsePlans(data)
}

func (f *PlanFactory) DefaultPlans() (*studio.PlanSet, error) {
	return f.ParsePlans(defaultPlans)
}

// =============================================================================
// SCHEDULE
// =============================================================================

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseSchedule parses a weekly timetable document.
func (f *PlanFactory) ParseSchedule(data []byte) (studio.WeeklyTemplate, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return studio.WeeklyTemplate{}, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}

	tpl := studio.WeeklyTemplate{
		Slots:      make(map[time.Weekday][]studio.SlotTemplate, len(sj.Days)),
		Instructor: sj.Instructor,
		Location:   sj.Location,
		Address:    sj.Address,
		TimeZone:   time.UTC,
	}
	if sj.TimeZone != "" {
		loc, err := time.LoadLocation(sj.TimeZone)
		if err != nil {
			return studio.WeeklyTemplate{}, fmt.Errorf("schedule timezone %q: %w", sj.TimeZone, err)
		}
		tpl.TimeZone = loc
	}

	for day, slots := range sj.Days {
		wd, ok := weekdays[strings.ToLower(day)]
		if !ok {
			return studio.WeeklyTemplate{}, fmt.Errorf("schedule: unknown weekday %q", day)
		}
		for i, sl := range slots {
			price, err := parseMoney(sl.Price, sj.Currency)
			if err != nil {
				return studio.WeeklyTemplate{}, fmt.Errorf("schedule %s slot %d: %w", day, i, err)
			}
			cat := studio.Category(sl.Category)
			if !cat.Valid() {
				return studio.WeeklyTemplate{}, fmt.Errorf("schedule %s slot %d: unknown category %q", day, i, sl.Category)
			}
			minutes := sl.Minutes
			if minutes == 0 {
				minutes = 60
			}
			tpl.Slots[wd] = append(tpl.Slots[wd], studio.SlotTemplate{
				Start:       sl.Start,
				Minutes:     minutes,
				Category:    cat,
				Subtype:     sl.Subtype,
				MaxCapacity: sl.MaxCapacity,
				Price:       price,
			})
		}
	}
	return tpl, nil
}

func (f *PlanFactory) LoadSchedule(path string) (studio.WeeklyTemplate, error) {
	if path == "" {
		return f.DefaultSchedule()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return studio.WeeklyTemplate{}, fmt.Errorf("read schedule %s: %w", path, err)
	}
	return f.ParseSchedule(data)
}

func (f *PlanFactory) DefaultSchedule() (studio.WeeklyTemplate, error) {
	return f.ParseSchedule(defaultSchedule)
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseMoney(amount, currency string) (generic.Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return generic.Money{}, fmt.Errorf("invalid price %q: %w", amount, err)
	}
	cur := generic.EUR
	if currency != "" {
		cur = generic.Currency(strings.ToUpper(currency))
	}
	return generic.Money{Amount: d, Currency: cur}, nil
}

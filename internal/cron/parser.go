package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// maxYearSkips bounds the search when a year field excludes the years the
// underlying schedule lands in.
const maxYearSkips = 130

// Parser builds next-fire evaluators for internal-dialect expressions.
type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse validates an internal-dialect expression and returns its schedule in
// the given IANA timezone ("" means UTC).
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	expr, err := ParseInternal(expression)
	if err != nil {
		return nil, err
	}
	return p.Schedule(expr, timezone)
}

// Schedule returns the evaluator for an already parsed expression.
func (p *Parser) Schedule(expr CronExpression, timezone string) (Schedule, error) {
	in, err := expr.toInternal()
	if err != nil {
		return nil, err
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	// robfig/cron counts weekdays from 0 = Sunday, like the external dialect.
	dow, err := remapDayOfWeek(in.DayOfWeek(), internalDayOfWeekField, externalDayOfWeekField)
	if err != nil {
		return nil, err
	}
	spec := strings.Join([]string{in.Second(), in.Minute(), in.Hour(), in.DayOfMonth(), in.Month(), dow}, " ")

	sched, err := p.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	s := &schedule{sched: sched, loc: loc}
	if y := in.Year(); y != "" && y != wildcard {
		years, err := yearField.expandField(y)
		if err != nil {
			return nil, err
		}
		s.years = years
	}
	return s, nil
}

// Schedule computes fire times.
type Schedule interface {
	// Next returns the earliest fire time strictly after the given time, or
	// the zero time when the schedule never fires again.
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
	years map[int]bool // nil = every year
}

func (s *schedule) Next(after time.Time) time.Time {
	t := s.sched.Next(after.In(s.loc))
	if s.years == nil {
		return t
	}

	for i := 0; i < maxYearSkips && !t.IsZero(); i++ {
		if s.years[t.Year()] {
			return t
		}
		next := 0
		for y := range s.years {
			if y > t.Year() && (next == 0 || y < next) {
				next = y
			}
		}
		if next == 0 {
			return time.Time{}
		}
		t = s.sched.Next(time.Date(next, time.January, 1, 0, 0, 0, 0, s.loc).Add(-time.Second))
	}
	return time.Time{}
}

func (spec fieldSpec) expandField(raw string) (map[int]bool, error) {
	items, err := splitItems(spec, raw)
	if err != nil {
		return nil, err
	}
	out := make(map[int]bool)
	for _, it := range items {
		vals, err := spec.expand(raw, it)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			out[v] = true
		}
	}
	return out, nil
}

package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies one of the two supported cron syntaxes.
type Dialect string

const (
	// DialectExternal is the 5-field Unix dialect:
	// minute hour day-of-month month day-of-week (0-7, 0 and 7 = Sunday).
	DialectExternal Dialect = "EXTERNAL_5_FIELD"

	// DialectInternal is the Quartz-style dialect:
	// second minute hour day-of-month month day-of-week [year]
	// (day-of-week 1-7, 1 = Sunday, "?" marks the unconstrained day field).
	DialectInternal Dialect = "INTERNAL_6_FIELD"
)

// ParseDialect accepts the canonical names plus the short aliases used by
// the CLI and HTTP API.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "external_5_field", "external", "unix", "5":
		return DialectExternal, nil
	case "internal_6_field", "internal", "quartz", "6":
		return DialectInternal, nil
	default:
		return "", fmt.Errorf("unknown cron dialect %q", s)
	}
}

const (
	wildcard = "*"
	noValue  = "?"
)

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

// Day names are absolute; their numeric value depends on the dialect.
var externalDayNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

var internalDayNames = map[string]int{
	"SUN": 1, "MON": 2, "TUE": 3, "WED": 4, "THU": 5, "FRI": 6, "SAT": 7,
}

type fieldSpec struct {
	name string
	min  int
	max  int
	// stepMax is the implicit end of an "a/step" item.
	stepMax  int
	names    map[string]int
	dayField bool
}

var (
	secondField     = fieldSpec{name: "second", min: 0, max: 59, stepMax: 59}
	minuteField     = fieldSpec{name: "minute", min: 0, max: 59, stepMax: 59}
	hourField       = fieldSpec{name: "hour", min: 0, max: 23, stepMax: 23}
	dayOfMonthField = fieldSpec{name: "day-of-month", min: 1, max: 31, stepMax: 31, dayField: true}
	monthField      = fieldSpec{name: "month", min: 1, max: 12, stepMax: 12, names: monthNames}
	yearField       = fieldSpec{name: "year", min: 1970, max: 2099, stepMax: 2099}

	externalDayOfWeekField = fieldSpec{name: "day-of-week", min: 0, max: 7, stepMax: 6, names: externalDayNames, dayField: true}
	internalDayOfWeekField = fieldSpec{name: "day-of-week", min: 1, max: 7, stepMax: 7, names: internalDayNames, dayField: true}
)

var externalFields = []fieldSpec{minuteField, hourField, dayOfMonthField, monthField, externalDayOfWeekField}

var internalFields = []fieldSpec{secondField, minuteField, hourField, dayOfMonthField, monthField, internalDayOfWeekField, yearField}

// CronExpression is a parsed, dialect-tagged expression. Fields hold the raw
// textual specifier of each field in dialect order.
type CronExpression struct {
	dialect Dialect
	fields  []string
}

func (c CronExpression) Dialect() Dialect { return c.dialect }

// Fields returns a copy of the field specifiers.
func (c CronExpression) Fields() []string {
	out := make([]string, len(c.fields))
	copy(out, c.fields)
	return out
}

func (c CronExpression) String() string { return strings.Join(c.fields, " ") }

func (c CronExpression) offset() int {
	if c.dialect == DialectInternal {
		return 1
	}
	return 0
}

func (c CronExpression) Minute() string     { return c.fields[c.offset()] }
func (c CronExpression) Hour() string       { return c.fields[c.offset()+1] }
func (c CronExpression) DayOfMonth() string { return c.fields[c.offset()+2] }
func (c CronExpression) Month() string      { return c.fields[c.offset()+3] }
func (c CronExpression) DayOfWeek() string  { return c.fields[c.offset()+4] }

// Second returns "0" for external expressions, which fire on the minute.
func (c CronExpression) Second() string {
	if c.dialect == DialectInternal {
		return c.fields[0]
	}
	return "0"
}

// Year returns "" when the expression carries no year field.
func (c CronExpression) Year() string {
	if c.dialect == DialectInternal && len(c.fields) == 7 {
		return c.fields[6]
	}
	return ""
}

// ParseExternal parses a 5-field expression. A "?" day field is accepted as
// a synonym for "*".
func ParseExternal(expression string) (CronExpression, error) {
	fields := strings.Fields(expression)
	if len(fields) != len(externalFields) {
		return CronExpression{}, malformed("expression", expression,
			fmt.Sprintf("expected 5 fields, got %d", len(fields)))
	}

	for i, spec := range externalFields {
		if spec.dayField && fields[i] == noValue {
			fields[i] = wildcard
		}
		if err := validateField(spec, fields[i]); err != nil {
			return CronExpression{}, err
		}
	}

	if isConstrained(fields[2]) && isConstrained(fields[4]) {
		return CronExpression{}, &AmbiguousFieldError{DayOfMonth: fields[2], DayOfWeek: fields[4]}
	}

	return CronExpression{dialect: DialectExternal, fields: fields}, nil
}

// ParseInternal parses a 6- or 7-field expression. Exactly one of
// day-of-month and day-of-week may be constrained, and at most one may be
// "?".
func ParseInternal(expression string) (CronExpression, error) {
	fields := strings.Fields(expression)
	if len(fields) != 6 && len(fields) != 7 {
		return CronExpression{}, malformed("expression", expression,
			fmt.Sprintf("expected 6 or 7 fields, got %d", len(fields)))
	}

	for i, raw := range fields {
		if err := validateField(internalFields[i], raw); err != nil {
			return CronExpression{}, err
		}
	}

	dom, dow := fields[3], fields[5]
	if dom == noValue && dow == noValue {
		return CronExpression{}, malformed("day-of-week", dow, `"?" may only be used in one of day-of-month and day-of-week`)
	}
	if isConstrained(dom) && isConstrained(dow) {
		return CronExpression{}, &AmbiguousFieldError{DayOfMonth: dom, DayOfWeek: dow}
	}

	return CronExpression{dialect: DialectInternal, fields: fields}, nil
}

// Parse dispatches on dialect.
func Parse(expression string, dialect Dialect) (CronExpression, error) {
	switch dialect {
	case DialectExternal:
		return ParseExternal(expression)
	case DialectInternal:
		return ParseInternal(expression)
	default:
		return CronExpression{}, fmt.Errorf("unknown cron dialect %q", dialect)
	}
}

func isConstrained(field string) bool {
	return field != wildcard && field != noValue
}

// item is one comma-separated element of a field.
type item struct {
	base string // "*", "?", "a" or "a-b"
	lo   string
	hi   string
	step int // 0 when absent
}

func (it item) String() string {
	var b strings.Builder
	switch {
	case it.base == wildcard || it.base == noValue:
		b.WriteString(it.base)
	case it.hi != "":
		b.WriteString(it.lo)
		b.WriteByte('-')
		b.WriteString(it.hi)
	default:
		b.WriteString(it.lo)
	}
	if it.step > 0 {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(it.step))
	}
	return b.String()
}

func splitItems(spec fieldSpec, raw string) ([]item, error) {
	if raw == "" {
		return nil, malformed(spec.name, raw, "empty field")
	}

	parts := strings.Split(raw, ",")
	items := make([]item, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, malformed(spec.name, raw, "empty list element")
		}

		var it item
		base := p
		if idx := strings.IndexByte(p, '/'); idx >= 0 {
			base = p[:idx]
			step, err := strconv.Atoi(p[idx+1:])
			if err != nil || step <= 0 {
				return nil, malformed(spec.name, raw, fmt.Sprintf("invalid step %q", p[idx+1:]))
			}
			if step > spec.max {
				return nil, malformed(spec.name, raw, fmt.Sprintf("step %d exceeds %d", step, spec.max))
			}
			it.step = step
		}

		switch {
		case base == wildcard:
			it.base = wildcard
		case base == noValue:
			if !spec.dayField || len(parts) > 1 || it.step > 0 {
				return nil, malformed(spec.name, raw, `"?" is only valid alone in a day field`)
			}
			it.base = noValue
		case strings.Contains(base, "-"):
			lo, hi, _ := strings.Cut(base, "-")
			if lo == "" || hi == "" {
				return nil, malformed(spec.name, raw, fmt.Sprintf("invalid range %q", base))
			}
			it.base, it.lo, it.hi = base, lo, hi
		default:
			it.base, it.lo = base, base
		}
		items = append(items, it)
	}
	return items, nil
}

func (spec fieldSpec) value(raw, token string) (int, error) {
	if spec.names != nil {
		if v, ok := spec.names[strings.ToUpper(token)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, malformed(spec.name, raw, fmt.Sprintf("invalid value %q", token))
	}
	if v < spec.min || v > spec.max {
		return 0, malformed(spec.name, raw, fmt.Sprintf("value %d out of range %d-%d", v, spec.min, spec.max))
	}
	return v, nil
}

func (spec fieldSpec) isName(token string) bool {
	if spec.names == nil {
		return false
	}
	_, ok := spec.names[strings.ToUpper(token)]
	return ok
}

// bounds resolves an item to its inclusive numeric range.
func (spec fieldSpec) bounds(raw string, it item) (int, int, error) {
	switch it.base {
	case wildcard, noValue:
		return spec.min, spec.stepMax, nil
	}

	lo, err := spec.value(raw, it.lo)
	if err != nil {
		return 0, 0, err
	}
	if it.hi == "" {
		if it.step > 0 {
			return lo, spec.stepMax, nil
		}
		return lo, lo, nil
	}
	hi, err := spec.value(raw, it.hi)
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, malformed(spec.name, raw, fmt.Sprintf("range start %d after end %d", lo, hi))
	}
	return lo, hi, nil
}

func validateField(spec fieldSpec, raw string) error {
	items, err := splitItems(spec, raw)
	if err != nil {
		return err
	}
	for _, it := range items {
		vals, err := spec.expand(raw, it)
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return malformed(spec.name, raw, fmt.Sprintf("%q selects no values", it.String()))
		}
	}
	return nil
}

// expand lists every value an item selects, in ascending order.
func (spec fieldSpec) expand(raw string, it item) ([]int, error) {
	lo, hi, err := spec.bounds(raw, it)
	if err != nil {
		return nil, err
	}
	step := it.step
	if step == 0 {
		step = 1
	}
	var out []int
	for v := lo; v <= hi; v += step {
		out = append(out, v)
	}
	return out, nil
}

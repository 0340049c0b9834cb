package cron

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ToInternalDialect converts a 5-field expression into the 6-field dialect
// the runtime evaluates. A seconds field of "0" is prepended, no year field
// is appended, and day-of-week values are shifted to the 1 = Sunday origin.
func ToInternalDialect(expression string) (CronExpression, error) {
	ext, err := ParseExternal(expression)
	if err != nil {
		return CronExpression{}, err
	}
	return ext.toInternal()
}

// ToExternalDialect converts a 6- or 7-field expression into the 5-field
// dialect. Expressions with a seconds or year constraint fail with
// *UnsupportedPrecisionError instead of being truncated.
func ToExternalDialect(expression string) (string, error) {
	in, err := ParseInternal(expression)
	if err != nil {
		return "", err
	}
	ext, err := in.toExternal()
	if err != nil {
		return "", err
	}
	return ext.String(), nil
}

// Convert translates expression between any pair of dialects. Converting to
// the same dialect validates and normalizes whitespace.
func Convert(expression string, from, to Dialect) (string, error) {
	src, err := Parse(expression, from)
	if err != nil {
		return "", err
	}

	switch {
	case from == to:
		return src.String(), nil
	case to == DialectInternal:
		out, err := src.toInternal()
		if err != nil {
			return "", err
		}
		return out.String(), nil
	case to == DialectExternal:
		out, err := src.toExternal()
		if err != nil {
			return "", err
		}
		return out.String(), nil
	default:
		return "", fmt.Errorf("unknown cron dialect %q", to)
	}
}

func (c CronExpression) toInternal() (CronExpression, error) {
	if c.dialect == DialectInternal {
		return c, nil
	}

	dom, dow := c.DayOfMonth(), c.DayOfWeek()
	switch {
	case !isConstrained(dom) && !isConstrained(dow):
		dom, dow = wildcard, noValue
	case !isConstrained(dom):
		mapped, err := remapDayOfWeek(dow, externalDayOfWeekField, internalDayOfWeekField)
		if err != nil {
			return CronExpression{}, err
		}
		dom, dow = noValue, mapped
	case !isConstrained(dow):
		dow = noValue
	default:
		return CronExpression{}, &AmbiguousFieldError{DayOfMonth: dom, DayOfWeek: dow}
	}

	return CronExpression{
		dialect: DialectInternal,
		fields:  []string{"0", c.Minute(), c.Hour(), dom, c.Month(), dow},
	}, nil
}

func (c CronExpression) toExternal() (CronExpression, error) {
	if c.dialect == DialectExternal {
		return c, nil
	}

	if !isZeroSecond(c.Second()) {
		return CronExpression{}, &UnsupportedPrecisionError{Field: secondField.name, Value: c.Second()}
	}
	if y := c.Year(); y != "" && y != wildcard {
		return CronExpression{}, &UnsupportedPrecisionError{Field: yearField.name, Value: y}
	}

	dom, dow := c.DayOfMonth(), c.DayOfWeek()
	if isConstrained(dom) && isConstrained(dow) {
		return CronExpression{}, &AmbiguousFieldError{DayOfMonth: dom, DayOfWeek: dow}
	}
	if !isConstrained(dom) {
		dom = wildcard
	}
	if isConstrained(dow) {
		mapped, err := remapDayOfWeek(dow, internalDayOfWeekField, externalDayOfWeekField)
		if err != nil {
			return CronExpression{}, err
		}
		dow = mapped
	} else {
		dow = wildcard
	}

	return CronExpression{
		dialect: DialectExternal,
		fields:  []string{c.Minute(), c.Hour(), dom, c.Month(), dow},
	}, nil
}

func isZeroSecond(field string) bool {
	v, err := strconv.Atoi(field)
	return err == nil && v == 0
}

// remapDayOfWeek rewrites a day-of-week field from one numbering to the
// other. Names are kept, numbers are shifted, and any item whose shifted form
// would select different weekdays is written out as an explicit list.
func remapDayOfWeek(raw string, from, to fieldSpec) (string, error) {
	if !isConstrained(raw) {
		return raw, nil
	}

	items, err := splitItems(from, raw)
	if err != nil {
		return "", err
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		mapped, err := remapDayItem(raw, it, from, to)
		if err != nil {
			return "", err
		}
		out = append(out, mapped)
	}
	return strings.Join(out, ","), nil
}

func remapDayItem(raw string, it item, from, to fieldSpec) (string, error) {
	days, err := weekdaysInOrder(from, raw, it)
	if err != nil {
		return "", err
	}
	want := slices.Sorted(slices.Values(days))

	shifted := it
	if it.base != wildcard {
		shifted.lo = shiftDay(it.lo, from, to)
		if it.hi != "" {
			shifted.hi = shiftDay(it.hi, from, to)
			shifted.base = shifted.lo + "-" + shifted.hi
		} else {
			shifted.base = shifted.lo
		}
	}

	if got, err := weekdays(to, shifted.String(), shifted); err == nil && slices.Equal(got, want) {
		return shifted.String(), nil
	}

	// Ranges that cross the end of the week cannot keep their shape. The
	// list keeps the order the source selected the days in.
	vals := make([]string, 0, len(days))
	for _, day := range days {
		vals = append(vals, strconv.Itoa(day+to.min))
	}
	return strings.Join(vals, ","), nil
}

// shiftDay maps a single validated token to the target numbering. Names are
// absolute and pass through unchanged.
func shiftDay(token string, from, to fieldSpec) string {
	if from.isName(token) {
		return token
	}
	v, _ := strconv.Atoi(token)
	return strconv.Itoa(dayIndex(from, v) + to.min)
}

// dayIndex folds a dialect value onto 0 = Sunday ... 6 = Saturday.
func dayIndex(spec fieldSpec, v int) int {
	return (v - spec.min) % 7
}

// weekdays returns the sorted, de-duplicated day indexes an item selects.
func weekdays(spec fieldSpec, raw string, it item) ([]int, error) {
	out, err := weekdaysInOrder(spec, raw, it)
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// weekdaysInOrder is weekdays without the sort.
func weekdaysInOrder(spec fieldSpec, raw string, it item) ([]int, error) {
	vals, err := spec.expand(raw, it)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(vals))
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		d := dayIndex(spec, v)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

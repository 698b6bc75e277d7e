package stage

import (
	"strings"
	"time"
)

type Stage string

const (
	EarlyPregnancy Stage = "Early pregnancy (discovery to week 22)"
	LatePregnancy  Stage = "Late pregnancy (week 23 to birth)"
	Newborn        Stage = "Newborn (birth to 1 month)"
	EarlyInfancy   Stage = "Early infancy (1-3 months)"
	MidInfancy     Stage = "Mid infancy (3-6 months)"
	WeaningPrep    Stage = "Weaning prep (6-9 months)"
	ChildcarePrep  Stage = "Childcare prep (9 months to daycare)"
)

const (
	DateLayout = "2006-01-02"
	keyPrefix  = "todos_"

	fullTermWeeks    = 40
	latePregnancyWk  = 23
	newbornDays      = 30
	earlyInfancyDays = 90
	midInfancyDays   = 180
	weaningPrepDays  = 270
)

// Clock returns the current wall-clock time.
type Clock func() time.Time

var all = []Stage{
	EarlyPregnancy,
	LatePregnancy,
	Newborn,
	EarlyInfancy,
	MidInfancy,
	WeaningPrep,
	ChildcarePrep,
}

// All returns every stage in life order.
func All() []Stage {
	out := make([]Stage, len(all))
	copy(out, all)
	return out
}

func Parse(label string) (Stage, bool) {
	for _, s := range all {
		if string(s) == label {
			return s, true
		}
	}
	return "", false
}

func (s Stage) String() string { return string(s) }

// Key is the local persistence key of the stage's task list.
func (s Stage) Key() string { return keyPrefix + string(s) }

func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(DateLayout, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// Classify maps a birth or due date to a stage relative to now. It reports
// false when date is empty or unparseable. The result depends on now, so
// callers re-classify on every load instead of caching.
func Classify(date string, now time.Time) (Stage, bool) {
	if strings.TrimSpace(date) == "" {
		return "", false
	}
	ref, err := ParseDate(date)
	if err != nil {
		return "", false
	}
	return ClassifyTime(ref, now), true
}

func ClassifyTime(ref, now time.Time) Stage {
	diffDays := floorDiv(int64(now.Sub(ref)), int64(24*time.Hour))
	if diffDays < 0 {
		weeksFromDue := fullTermWeeks + floorDiv(diffDays, 7)
		if weeksFromDue < latePregnancyWk {
			return EarlyPregnancy
		}
		return LatePregnancy
	}
	switch {
	case diffDays <= newbornDays:
		return Newborn
	case diffDays <= earlyInfancyDays:
		return EarlyInfancy
	case diffDays <= midInfancyDays:
		return MidInfancy
	case diffDays <= weaningPrepDays:
		return WeaningPrep
	default:
		return ChildcarePrep
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

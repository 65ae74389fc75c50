package domain

import "time"

// AgeCategory is a developmental age band, ordered youngest to oldest.
type AgeCategory string

// Age categories in ascending order.
const (
	AgeInfant      AgeCategory = "infant"
	AgeToddler     AgeCategory = "toddler"
	AgePreschooler AgeCategory = "preschooler"
	AgeJKSK        AgeCategory = "jk_sk"
	AgeSchoolAge   AgeCategory = "school_age"
	AgeOther       AgeCategory = "other"
)

var ageCategoryOrder = []AgeCategory{AgeInfant, AgeToddler, AgePreschooler, AgeJKSK, AgeSchoolAge, AgeOther}

// Rank returns the position of c in the fixed ordering, or -1 when unknown.
func (c AgeCategory) Rank() int {
	for i, v := range ageCategoryOrder {
		if v == c {
			return i
		}
	}
	return -1
}

// OlderThan reports whether c is strictly older than other.
func (c AgeCategory) OlderThan(other AgeCategory) bool {
	return c.Rank() > other.Rank()
}

// CategoryOf classifies an age in months. The 18 and 45.6 bounds are inclusive.
func CategoryOf(ageInMonths float64) AgeCategory {
	switch {
	case ageInMonths <= 18:
		return AgeInfant
	case ageInMonths < 30:
		return AgeToddler
	case ageInMonths <= 45.6:
		return AgePreschooler
	case ageInMonths < 72:
		return AgeJKSK
	case ageInMonths < 144:
		return AgeSchoolAge
	default:
		return AgeOther
	}
}

// AgeInMonths returns the number of whole calendar months between dob and ref.
// Month arithmetic clamps to the end of shorter months, so Jan 31 reaches one
// month on Feb 28 (or 29).
func AgeInMonths(dob, ref time.Time) int {
	dob, ref = DateOf(dob), DateOf(ref)
	if ref.Before(dob) {
		return 0
	}
	months := (ref.Year()-dob.Year())*12 + int(ref.Month()-dob.Month())
	if AddMonthsClamped(dob, months).After(ref) {
		months--
	}
	return months
}

// AddMonthsClamped adds n calendar months to t, clamping the day to the last
// day of the target month.
func AddMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// AgeCategoryAt classifies a child at ref. ok is false when the date of birth is unknown.
func AgeCategoryAt(c Child, ref time.Time) (AgeCategory, int, bool) {
	if c.DateOfBirth == nil {
		return "", 0, false
	}
	months := AgeInMonths(*c.DateOfBirth, ref)
	return CategoryOf(float64(months)), months, true
}

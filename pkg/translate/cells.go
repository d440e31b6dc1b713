package translate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// EstimateBuckets is the closed set of hour values the sheet's estimate
// column accepts.
var EstimateBuckets = []float64{0.25, 0.5, 1, 2, 4, 8}

// ClampEstimate returns the bucket nearest to h, preferring the smaller bucket
// on a tie, and whether h was already a bucket. Non-positive h yields 0.
func ClampEstimate(h float64) (float64, bool) {
	if h <= 0 {
		return 0, h == 0
	}
	best := EstimateBuckets[0]
	for _, b := range EstimateBuckets[1:] {
		if math.Abs(b-h) < math.Abs(best-h) {
			best = b
		}
	}
	return best, best == h
}

// ParseEstimate reads an hours cell such as "2", "0.5h" or "4 hrs".
func ParseEstimate(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	for _, suffix := range []string{"hours", "hrs", "hr", "h"} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}
	h, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hours value %q", s)
	}
	return h, nil
}

func FormatEstimate(h float64) string {
	if h <= 0 {
		return ""
	}
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// DateLayout is the layout dates are written to the sheet with.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"1/2/2006",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

var phrases = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseDate reads a date cell. Structured layouts are tried first; anything
// else goes through the natural-language parser relative to base, and fuzzy
// reports that it did.
func ParseDate(s string, base time.Time) (t time.Time, fuzzy bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return midnight(t), false, nil
		}
	}
	if base.IsZero() {
		base = time.Now()
	}
	r, err := phrases.Parse(s, base)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, false, fmt.Errorf("unrecognized date %q", s)
	}
	return midnight(r.Time), true, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

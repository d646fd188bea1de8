// Package voice turns short spoken phrases into baby logs.
package voice

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/babylog/internal/models"
)

// ErrUnrecognized is returned when no command matches.
var ErrUnrecognized = errors.New("voice: unrecognized command")

var (
	amountRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:ml|milliliters?|cc)\b`)
	minutesRe  = regexp.MustCompile(`(\d+)\s*(?:min|mins|minutes?)\b`)
	celsiusRe  = regexp.MustCompile(`(\d{2}(?:\.\d+)?)`)
	poopSizeRe = regexp.MustCompile(`\b(small|medium|large|\d{1,2})\b`)
	peeRe      = regexp.MustCompile(`\bpee(?:d|s)?\b|\bwet diaper\b`)
	solidRe    = regexp.MustCompile(`\b(?:solids?|ate)\b`)
	medicineRe = regexp.MustCompile(`^(?:gave\s+)?(?:medicine|medication|meds)\s+(.+)$`)
)

// Parse recognizes a command in text and returns the log it describes,
// timestamped now.
func Parse(text string, now time.Time) (*models.BabyLog, error) {
	t := normalize(text)
	if t == "" {
		return nil, ErrUnrecognized
	}

	details, ok := match(t, now)
	if !ok {
		return nil, ErrUnrecognized
	}
	l, err := models.NewBabyLog(details, now, "")
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func normalize(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".!?")
	return strings.Join(strings.Fields(t), " ")
}

func match(t string, now time.Time) (models.LogDetails, bool) {
	switch {
	case strings.HasPrefix(t, "temperature") || strings.HasPrefix(t, "temp "):
		m := celsiusRe.FindStringSubmatch(t)
		if m == nil {
			return nil, false
		}
		c, _ := strconv.ParseFloat(m[1], 64)
		return models.Temperature{Celsius: c}, true

	case medicineRe.MatchString(t):
		name := medicineRe.FindStringSubmatch(t)[1]
		return models.Medicine{Name: name}, true

	case strings.Contains(t, "woke up") || strings.HasPrefix(t, "awake") || strings.HasPrefix(t, "wake"):
		return models.Sleep{EndedAt: now.UnixMilli()}, true

	case strings.Contains(t, "asleep") || strings.HasPrefix(t, "sleep") || strings.HasPrefix(t, "nap"):
		return models.Sleep{}, true

	case strings.HasPrefix(t, "pump"):
		p := models.Pump{AmountML: amount(t)}
		for _, side := range []string{"left", "right", "both"} {
			if strings.Contains(t, side) {
				p.Side = side
			}
		}
		return p, true

	case strings.Contains(t, "poop") || strings.Contains(t, "dirty diaper"):
		p := models.Poop{}
		if m := poopSizeRe.FindStringSubmatch(t); m != nil {
			if a, err := models.ParsePoopAmount(m[1]); err == nil {
				p.Amount = a
			}
		}
		return p, true

	case peeRe.MatchString(t):
		return models.Pee{}, true

	case strings.Contains(t, "bath"):
		return models.Bath{}, true

	case strings.Contains(t, "breast"), strings.Contains(t, "nursed"):
		f := models.Feeding{Method: models.BreastLeft, DurationMin: minutes(t)}
		if strings.Contains(t, "right") {
			f.Method = models.BreastRight
		}
		return f, true

	case strings.Contains(t, "formula"):
		return models.Feeding{Method: models.Formula, AmountML: amount(t)}, true

	case solidRe.MatchString(t):
		return models.Feeding{Method: models.Solid}, true

	case strings.HasPrefix(t, "fed") || strings.Contains(t, "bottle") || strings.HasPrefix(t, "feeding"):
		return models.Feeding{Method: models.Bottle, AmountML: amount(t), DurationMin: minutes(t)}, true
	}
	return nil, false
}

func amount(t string) int {
	m := amountRe.FindStringSubmatch(t)
	if m == nil {
		return 0
	}
	f, _ := strconv.ParseFloat(m[1], 64)
	return int(f + 0.5)
}

func minutes(t string) int {
	m := minutesRe.FindStringSubmatch(t)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

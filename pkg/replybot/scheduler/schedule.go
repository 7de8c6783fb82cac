// Package scheduler – schedule.go turns schedule phrases from config into
// cron specs.
package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	reEveryInterval = regexp.MustCompile(`^every\s+(\d+)\s+(second|minute|hour|day|sec|min)s?$`)
	reEverySingular = regexp.MustCompile(`^every\s+(second|minute|hour|day)$`)
	reDailyAt       = regexp.MustCompile(`^daily\s+at\s+(.+)$`)
)

var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule normalizes a schedule expression into a cron spec and
// validates it. Accepted forms:
//
//	"@hourly", "@every 30m", "0 * * * *"   passed through
//	"hourly", "daily"                       -> "@hourly", "@daily"
//	"every 15 minutes", "every hour"        -> "@every 15m", "@every 1h"
//	"daily at 03:30", "daily at 3pm"        -> "30 3 * * *", "0 15 * * *"
func ParseSchedule(expr string) (string, error) {
	normalized := strings.TrimSpace(strings.ToLower(expr))
	if normalized == "" {
		return "", fmt.Errorf("empty schedule")
	}

	spec := normalized
	switch {
	case normalized == "hourly" || normalized == "daily":
		spec = "@" + normalized

	case reEveryInterval.MatchString(normalized):
		m := reEveryInterval.FindStringSubmatch(normalized)
		n, _ := strconv.Atoi(m[1])
		unit := timeUnit(m[2])
		if n <= 0 {
			return "", fmt.Errorf("invalid interval in %q", expr)
		}
		if unit == "d" {
			n, unit = n*24, "h"
		}
		spec = fmt.Sprintf("@every %d%s", n, unit)

	case reEverySingular.MatchString(normalized):
		unit := timeUnit(reEverySingular.FindStringSubmatch(normalized)[1])
		if unit == "d" {
			spec = "@every 24h"
		} else {
			spec = "@every 1" + unit
		}

	case reDailyAt.MatchString(normalized):
		hour, minute, ok := clockTime(reDailyAt.FindStringSubmatch(normalized)[1])
		if !ok {
			return "", fmt.Errorf("invalid time in %q", expr)
		}
		spec = fmt.Sprintf("%d %d * * *", minute, hour)

	default:
		// Cron fields are case-sensitive for month/day names; keep the input.
		spec = strings.TrimSpace(expr)
	}

	if _, err := specParser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return spec, nil
}

func timeUnit(word string) string {
	switch strings.TrimSuffix(word, "s") {
	case "second", "sec":
		return "s"
	case "minute", "min":
		return "m"
	case "hour":
		return "h"
	case "day":
		return "d"
	}
	return ""
}

// clockTime parses "9:00", "14:30", "9am" or "3:30pm".
func clockTime(s string) (hour, minute int, ok bool) {
	s = strings.TrimSpace(s)
	pm := strings.HasSuffix(s, "pm")
	am := strings.HasSuffix(s, "am")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(s, "pm"), "am"))

	h, m, hasMinutes := strings.Cut(s, ":")
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	if hasMinutes {
		minute, err = strconv.Atoi(m)
		if err != nil || minute < 0 || minute > 59 {
			return 0, 0, false
		}
	}
	if pm && hour < 12 {
		hour += 12
	}
	if am && hour == 12 {
		hour = 0
	}
	return hour, minute, true
}

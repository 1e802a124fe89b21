package tflog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timestampFields = []string{"@timestamp", "timestamp", "time", "@time"}

// isoLayouts are tried in order against structured timestamp values.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// rawTimestampPatterns capture the HH:MM:SS portion of free text. They are tried in
// order and the first pattern that matches anywhere in the line wins, so a dated clock
// beats an earlier bare one.
var rawTimestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ](\d{2}:\d{2}:\d{2})`),
	regexp.MustCompile(`(\d{2}:\d{2}:\d{2})`),
}

// ExtractTimestamp returns the time of day of a structured line as HH:MM:SS.mmm,
// or NoTimestamp.
func ExtractTimestamp(data map[string]any) string {
	for _, field := range timestampFields {
		s, ok := data[field].(string)
		if !ok || s == "" {
			continue
		}
		if t, ok := parseISO(s); ok {
			return t.Format("15:04:05.000")
		}
	}
	return NoTimestamp
}

func parseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "Z", "+00:00"))
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ExtractTimestampFromRaw returns the HH:MM:SS picked by rawTimestampPatterns, or NoTimestamp.
// Fractional seconds are dropped.
func ExtractTimestampFromRaw(line string) string {
	for _, re := range rawTimestampPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return NoTimestamp
}

// ParseClock converts HH:MM:SS[.fff] into milliseconds since midnight.
// Digits after the dot are a decimal fraction of a second.
func ParseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 {
		return 0, false
	}
	secPart, fracPart, hasFrac := strings.Cut(parts[2], ".")
	seconds, err := strconv.Atoi(secPart)
	if err != nil || seconds < 0 {
		return 0, false
	}
	millis := 0
	if hasFrac {
		if fracPart == "" {
			return 0, false
		}
		for _, c := range fracPart {
			if c < '0' || c > '9' {
				return 0, false
			}
		}
		frac := (fracPart + "00")[:3]
		millis, _ = strconv.Atoi(frac)
	}
	return hours*3_600_000 + minutes*60_000 + seconds*1000 + millis, true
}

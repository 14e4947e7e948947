package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// clockPattern matches duration strings like "42:07" or "1:02:03"
var clockPattern = regexp.MustCompile(`^(?:(\d+):)?(\d{1,2}):(\d{2})$`)

// ParseClock parses a duration written as mm:ss or hh:mm:ss.
// Surrounding whitespace is ignored, so text clicked on a page can be
// passed through as is.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration string is empty")
	}

	matches := clockPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration format: %s (expected mm:ss or hh:mm:ss)", s)
	}

	hours := 0
	if matches[1] != "" {
		hours, _ = strconv.Atoi(matches[1])
	}
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.Atoi(matches[3])

	if seconds >= 60 {
		return 0, fmt.Errorf("invalid seconds in duration: %s", s)
	}
	if hours > 0 && minutes >= 60 {
		return 0, fmt.Errorf("invalid minutes in duration: %s", s)
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second, nil
}

// FormatClock renders d as hh:mm:ss, e.g. 3601s becomes 01:00:01.
func FormatClock(d time.Duration) string {
	total := int(d / time.Second)
	hours := total / 3600
	minutes := (total - 3600*hours) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

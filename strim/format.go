package strim

import (
	"fmt"
	"strings"
	"time"
)

// KST is the display timezone for schedule timestamps. Korea does not observe
// DST, so a fixed offset is sufficient.
var KST = time.FixedZone("KST", 9*60*60)

// FormatDelta humanizes a duration as "2 days, 3 hours, 4 minutes". Zero
// components are omitted; sub-second remainders are dropped.
func FormatDelta(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int(d / time.Second)

	var parts []string
	add := func(n int, unit string) {
		if n == 0 {
			return
		}
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", unit))
			return
		}
		parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
	}
	add(days, "day")
	add(hours, "hour")
	add(minutes, "minute")
	add(seconds, "second")
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, ", ")
}

// FormatKST renders t in KST for chat display.
func FormatKST(t time.Time) string {
	return t.In(KST).Format("2006-01-02 15:04 KST")
}

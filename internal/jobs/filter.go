package jobs

import (
	"strings"
	"time"
)

// FilterByLocation keeps rows whose location matches any scope entry
// (case-insensitive substring). An empty scope keeps everything.
func FilterByLocation(rows []PostingRow, scope []string) (kept []PostingRow, dropped int) {
	if len(scope) == 0 {
		return rows, 0
	}
	kept = rows[:0]
	for _, row := range rows {
		loc := strings.ToLower(row.Location)
		match := false
		for _, s := range scope {
			if strings.Contains(loc, strings.ToLower(strings.TrimSpace(s))) {
				match = true
				break
			}
		}
		if match {
			kept = append(kept, row)
		} else {
			dropped++
		}
	}
	return kept, dropped
}

// FilterByDate drops rows posted before now minus lookbackDays. Rows without
// a posting date pass through; lookbackDays <= 0 disables the filter.
func FilterByDate(rows []PostingRow, lookbackDays int, now time.Time) (kept []PostingRow, dropped int) {
	if lookbackDays <= 0 {
		return rows, 0
	}
	cutoff := now.AddDate(0, 0, -lookbackDays)
	kept = rows[:0]
	for _, row := range rows {
		if !row.PostedAt.IsZero() && row.PostedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, row)
	}
	return kept, dropped
}

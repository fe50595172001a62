package panorama

import "time"

// NearestIndex returns the index of the history entry whose (year, month) is
// closest to target. Distance is |monthDelta + yearDelta*12|, the first
// minimum wins and an empty history yields 0.
func NearestIndex(target time.Time, history []TimeEntry) int {
	best := 0
	bestDist := -1
	for i, entry := range history {
		d := monthDistance(target, entry.Date)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func monthDistance(target, date time.Time) int {
	d := int(date.Month()-target.Month()) + (date.Year()-target.Year())*12
	if d < 0 {
		return -d
	}
	return d
}

// validHistory drops entries without a pano id or capture date.
func validHistory(history []TimeEntry) []TimeEntry {
	valid := make([]TimeEntry, 0, len(history))
	for _, entry := range history {
		if entry.PanoID == "" || entry.Date.IsZero() {
			continue
		}
		valid = append(valid, entry)
	}
	return valid
}

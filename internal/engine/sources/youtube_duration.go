package sources

import (
	"fmt"
	"regexp"
	"strconv"
)

// isoDurationRE matches the subset of ISO-8601 durations the Data API emits:
// P[nW][nD][T[nH][nM][nS]]. Years and months never appear for videos.
var isoDurationRE = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)(?:\.\d+)?S)?)?$`)

// ParseISODuration converts a contentDetails.duration value such as
// "PT1H2M3S" to seconds. "P0D" (upcoming live streams) is 0.
func ParseISODuration(s string) (int, error) {
	m := isoDurationRE.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	units := [...]int{7 * 86400, 86400, 3600, 60, 1}
	total := 0
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
		}
		total += n * unit
	}
	return total, nil
}

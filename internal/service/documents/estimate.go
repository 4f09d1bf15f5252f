package documents

import (
	"fmt"
	"strings"
)

var secondsPerMB = map[string]float64{
	"pdf":  30,
	"docx": 20,
	"txt":  10,
	"csv":  25,
	"xlsx": 35,
}

// EstimateProcessingTime gives a rough human-readable ingestion time for an
// upload of size bytes.
func EstimateProcessingTime(size int64, fileType string) string {
	rate, ok := secondsPerMB[strings.ToLower(fileType)]
	if !ok {
		rate = 20
	}
	seconds := float64(size) / (1024 * 1024) * rate
	switch {
	case seconds < 10:
		return "< 10 seconds"
	case seconds < 60:
		return fmt.Sprintf("~%d seconds", int(seconds))
	default:
		return fmt.Sprintf("~%d minutes", int(seconds/60))
	}
}

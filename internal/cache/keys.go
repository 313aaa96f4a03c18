package cache

import "fmt"

func ReportJobKey(jobID string) string {
	return fmt.Sprintf("report:job:%s", jobID)
}

// ReportListKey addresses one page of report history within a list generation.
func ReportListKey(version int64, filter string) string {
	return fmt.Sprintf("report:list:v%d:%s", version, filter)
}

func JobListVersionKey() string {
	return "report:list:version"
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}

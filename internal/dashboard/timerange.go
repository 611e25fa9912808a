package dashboard

import "time"

// lookback maps a time_range token to its window. Unknown tokens fall
// back to one hour.
func lookback(token string) time.Duration {
	switch token {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "24h":
		return 24 * time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

package operator

import "time"

// unixToTime converts a stored Unix-seconds mtime back into a time.Time for
// filesystem calls like os.Chtimes.
func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0)
}

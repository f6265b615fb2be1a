// Package classify sorts assembled records into the good and bad
// buckets.
package classify

import "github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/record"

const (
	Good = "good"
	Bad  = "bad"
)

// Ratio of statuses to total users above which a record is treated as
// an implausible outlier.
const maxStatusRatio = 50000

// Anomalous reports whether a record's counters fail basic sanity:
// a negative counter, or a statuses-per-user ratio beyond the cap.
func Anomalous(rec *record.StatsRecord) bool {
	for _, counter := range []*int64{rec.UsersTotal, rec.Statuses, rec.UsersActiveMonth} {
		if counter != nil && *counter < 0 {
			return true
		}
	}
	if rec.UsersTotal != nil && rec.Statuses != nil {
		users, statuses := *rec.UsersTotal, *rec.Statuses
		if users > 0 && statuses > 0 && float64(statuses)/float64(users) > maxStatusRatio {
			return true
		}
	}
	return false
}

// Classify returns Good or Bad. Unverified hosts, hosts with stage
// errors, anomalous counters, and verified-but-metricless records all
// land in the bad bucket so the good file stays trustworthy.
func Classify(rec *record.StatsRecord, hadErrors bool) string {
	if !rec.VerifiedActivityPub {
		return Bad
	}
	if hadErrors {
		return Bad
	}
	if Anomalous(rec) {
		return Bad
	}
	if rec.HasMetrics() {
		return Good
	}
	return Bad
}

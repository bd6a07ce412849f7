package usersync

import "fmt"

// Report summarizes one reconciliation of a provider binding. Counters cover
// every processed record: snapshot entries and previously linked users each
// land in at least one of them, and a user that is both updated and
// reactivated in the same run increments both.
type Report struct {
	Created      int // users created from snapshot entries with no local match
	Updated      int // users whose name, email, or avatar changed
	Suspended    int // linked users absent from the snapshot
	Reactivated  int // suspended users that reappeared in the snapshot
	Unchanged    int // users requiring no attribute change
	AddedToGroup int // new users added to the binding's default group

	// Errors collects everything that went wrong without aborting the run:
	// safety aborts, skipped records, and per-user failures. The engine
	// never returns an error; this list is the only failure channel.
	Errors []string
}

// Total sums the outcome counters. Zero with a non-empty Errors list means
// the run aborted before doing any work.
func (r *Report) Total() int {
	return r.Created + r.Updated + r.Suspended + r.Reactivated + r.Unchanged
}

// errorf appends a formatted entry to Errors.
func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

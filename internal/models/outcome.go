package models

// Outcome is the terminal state of one synchronization attempt.
type Outcome int

const (
	// OutcomeConverged means the round completed and the inbound patch, if
	// any, was applied.
	OutcomeConverged Outcome = iota

	// OutcomeChecksumMismatch means the remote base diverged from the
	// shadow; the live document was left untouched.
	OutcomeChecksumMismatch

	// OutcomeConflict means the remote content replaced both the shadow
	// and the live document.
	OutcomeConflict

	// OutcomeRemoteDeleted means the document no longer exists remotely;
	// its shadow was purged and, on a deletion signal, the local copy removed.
	OutcomeRemoteDeleted

	// OutcomeRootMissing means the whole namespace is gone and its share
	// registration was dropped.
	OutcomeRootMissing

	// OutcomeRegistered means an untracked document was registered and
	// now has a shadow.
	OutcomeRegistered

	// OutcomeSkipped means nothing was attempted (out of scope, missing
	// document, or lock contention).
	OutcomeSkipped
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeConverged:
		return "converged"
	case OutcomeChecksumMismatch:
		return "checksum_mismatch"
	case OutcomeConflict:
		return "conflict"
	case OutcomeRemoteDeleted:
		return "remote_deleted"
	case OutcomeRootMissing:
		return "root_missing"
	case OutcomeRegistered:
		return "registered"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// SyncResult describes what one attempt did.
type SyncResult struct {
	Path    string
	Root    string
	Outcome Outcome
	// Content is the adopted remote content for conflicts and registrations.
	Content string
	// Written reports whether the live document was modified.
	Written bool
	// Deleted reports whether the live document was removed.
	Deleted bool
}

// ShadowEntry is the last content client and server are known to agree on.
type ShadowEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

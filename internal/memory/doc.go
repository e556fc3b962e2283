// Package memory defines the records the learning engine persists and the
// confidence update rule applied to them.
//
// Three record kinds are stored:
//   - Pattern: a keyed, confidence-scored approach with its track record
//   - Failure: an append-only log entry for a failed attempt
//   - Session: an immutable summary of a bounded window of activity
//
// CausalLink is an optional cause/effect relation scored by the same rule.
//
// # Confidence
//
// Confidence moves asymptotically toward 1.0 on success and decays
// proportionally on failure:
//
//	success: c + (1-c)*alpha
//	failure: c - c*beta
//
// Results are always clamped to [0, 1]. See Updater.
//
// Nothing in this package performs I/O; the store package owns persistence
// and hands out copies of these values.
package memory

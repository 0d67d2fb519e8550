// Package diff computes minimal unified diffs between two text blobs.
//
// The engine builds a longest-common-subsequence table over the two line
// sequences (dynamic programming, O(n*m) time and space) and backtracks to an
// edit script of equal/add/del operations. Operations are grouped into hunks
// bounded by a configurable number of context lines, then rendered as a
// standard unified diff with 1-based hunk headers.
//
// The quadratic table is acceptable for source-file-sized inputs. Inputs above
// Limits.MaxInputLines are rejected with ErrTooLarge instead of silently
// degrading; a linear-space Myers variant is the upgrade path if larger inputs
// ever need to be diffed.
//
// Identical inputs produce a patch whose IsNoOp reports true and whose text is
// the NoChangesMarker sentinel, so callers can tell "no changes" apart from an
// empty or failed diff. Truncation never invents content: once the hunk or
// byte limit is exceeded, trailing hunks are dropped and a truncation marker
// is appended.
package diff

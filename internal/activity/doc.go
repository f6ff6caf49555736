// Package activity logs completed wellness activities such as meditation,
// exercise or journaling, and keeps a per-user daily tally.
package activity

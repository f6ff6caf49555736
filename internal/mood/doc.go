// Package mood records mood check-ins and keeps a per-user summary of them.
package mood

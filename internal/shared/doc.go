// Package shared holds helpers used across packages that belong to no single
// domain. Its testutil subpackage provides log capture for tests.
package shared

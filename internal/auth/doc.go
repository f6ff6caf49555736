// Package auth issues and validates bearer tokens for MindWell users.
//
// A token is an HS256 JWT whose ID claim names a stored session; a token is
// only accepted while its session document exists, so logging out revokes it
// before it expires. Passwords are hashed with bcrypt.
package auth

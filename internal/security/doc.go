// Package security provides at-rest encryption for sensitive user content.
//
// A ContentCipher derives an AES-256 key from a passphrase with scrypt once
// at startup and seals each value with AES-GCM under a fresh random nonce.
// Sealed values are self-describing strings:
//
//	enc:v1:<base64(nonce || ciphertext || tag)>
//
// Open passes through values without the prefix, so rows written before
// encryption was enabled stay readable.
package security

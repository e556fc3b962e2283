// Package secrets redacts credentials from text before it is persisted.
//
// Error output captured by post-task hooks often echoes tokens, connection
// strings or private keys. Every failure message passes through a Scrubber
// so the memory store never holds them.
package secrets

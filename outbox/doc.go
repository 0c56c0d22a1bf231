// Package outbox couples a repository mutation with an outbox record in one
// storage session, so the state change and the event describing it commit or
// abort together.
//
// Typical flow:
//  1. Build a Coordinator over a repository.Repository and its backend.
//  2. Call one of the *WithOutbox methods instead of the plain mutation.
//  3. An external relay reads committed outbox records and publishes them.
//
// Publishing is outside this package.
package outbox

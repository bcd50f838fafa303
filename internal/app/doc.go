// Package app assembles the license server: configuration, logging,
// observability, the signing keypair, the license repository and the
// HTTP surface, constructed once at process start and wired by
// dependency injection.
package app

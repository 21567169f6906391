// Package digest provides deterministic serialization and domain-separated
// hashing for identity fingerprints and the transition audit chain.
//
// All digests are SHA-256 over RFC 8785 canonical JSON (or raw bytes) prefixed
// by a versioned domain string and a 0x00 separator:
//
//	SHA256(domain || 0x00 || data)
//
// The version suffix in each domain allows the algorithm to be migrated
// without ambiguity between old and new digests.
package digest

// Package matcher detects when a proposed candidate is a person the tenant
// already knows.
//
// Detection runs in two passes inside the caller's tenant scope:
//
//  1. Exact: the proposed identity's fingerprint (domain-separated SHA-256 of
//     the normalized name, email and phone) is looked up by equality.
//  2. Fuzzy: every tenant candidate is scored on name similarity and exact
//     normalized email and phone, weighted 0.4/0.4/0.2 over the fields
//     present on both sides.
//
// A match against a candidate who left the organization (or is blacklisted)
// yields DecisionFlagged: the new application must be held for human review.
// The matcher only reads; it never mutates the matched candidate.
package matcher

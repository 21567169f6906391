// Package harness runs YAML scenarios against the service layer and records
// a trace of every step for golden comparison.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	tenants: [acme, globex]
//	actors:
//	  - { name: pipeline, tenant: acme, kind: system }
//	  - { name: ria, tenant: acme, kind: human, roles: [reviewer] }
//	steps:
//	  - op: intake
//	    actor: pipeline
//	    as: jane
//	    args: { full_name: Jane Doe, email: jane@x.com, job_title: Engineer }
//	    expect: { decision: clean }
//	  - op: transition
//	    actor: pipeline
//	    subject: candidate
//	    target: jane
//	    from: ACTIVE
//	    to: LEFT_COMPANY
//	    expect: { outcome: rejected, rule: "cannot skip JOINED before LEFT_COMPANY" }
//	assertions:
//	  - { type: final_status, subject: candidate, target: jane, status: ACTIVE }
//
// Tenants, actors and subjects are referred to by alias. An intake step with
// `as: jane` names both the candidate and the application it creates; the
// subject field (default application) selects which one a step acts on.
//
// # Operations
//
//   - intake: Service.Intake with args decoded into service.IntakeRequest
//   - transition: Service.Transition from -> to
//   - race: concurrent transitions from one status to each of contenders
//   - clear_flag: Service.ClearReviewFlag
//   - blacklist: Service.SetBlacklisted with value
//   - delete_application: Service.DeleteApplication
//   - deactivate_tenant: Service.DeactivateTenant (no actor)
//
// Every step authenticates its actor with a real API token, so a
// deactivated tenant shows up as auth_failed. A step without expect must
// succeed.
//
// # Assertion Types
//
//   - final_status: subject status equals status, or is one of one_of
//   - blacklisted: candidate blacklist flag equals value
//   - flagged: application review flag equals value
//   - history_count: subject has count audit records
//   - chain_intact: subject's audit hash chain verifies
//   - trace_count: count steps with op (and outcome, when given)
//
// # Deterministic Testing
//
// Ids come from testutil.SequenceGenerator and times from
// testutil.DeterministicClock. Traces refer to entities by alias, never by
// id or hash, so the same scenario always produces the same trace.
package harness

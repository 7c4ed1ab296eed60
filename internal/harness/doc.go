// Package harness runs scripted wizard sessions end to end.
//
// A scenario drives one wizard.Machine through a list of steps against a
// fresh in-memory cache and a scripted remote whose operations can be made
// to fail at any point. Each step records its outcome, the remote calls it
// caused, and the notices it raised; the trace is compared with golden
// files and the final state with assertions.
//
// # Scenario Format
//
//	name: remote_down_mid_session
//	description: "Saves keep working from the local cache"
//	catalog: ../../catalog/testdata/catalog
//	remote:
//	  sessions:
//	    - sessionId: s-old
//	      client: {email: ada@example.com}
//	  fail:
//	    put_session: unavailable
//	steps:
//	  - do: bootstrap
//	  - do: set_client
//	    args: {firstName: Ada, lastName: Lovelace, email: ada@example.com}
//	  - do: next
//	  - do: next
//	    expect:
//	      error: VALIDATION
//	      fields: [case.title, case.category]
//	assertions:
//	  - type: stage
//	    stage: case
//	  - type: notice_count
//	    level: warn
//	    count: 1
//	  - type: field
//	    store: local
//	    path: client.email
//	    equals: ada@example.com
//
// Records under remote and local use the JSON field names of the domain
// types. Remote failures are unavailable, unauthorized, not_found, or
// conflict; fail_remote with error "none" clears one.
//
// # Determinism
//
// Every run uses a stepping clock from testutil, sequential session ids
// (session-0001, ...), and waits for background auto-fill after each
// step, so traces are byte-identical across runs.
package harness

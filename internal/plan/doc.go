// Package plan loads YAML plan files and submits them to a task manager.
//
// A plan names a set of tasks and the dependencies between them. Task ids
// are deterministic so that every peer loading the same file submits the
// same ids and can arbitrate over them:
//
//	name: nightly
//	defaults:
//	  max_retries: 2
//	  timeout: 30s
//	tasks:
//	  - id: fetch
//	    kind: exec
//	    params: {command: ["git", "fetch"]}
//	  - kind: echo          # id defaults to "nightly-2"
//	    params: {msg: done}
//	    depends_on: [fetch]
//
// Load parses and validates a file. Dependency references, duplicate ids and
// cycles are reported before anything reaches the manager. Submit then adds
// the tasks in dependency order, skipping ids the manager already holds so a
// plan can be re-run against restored state.
package plan

// Package harness runs replication convergence scenarios.
//
// A scenario seeds several replicas identically, delivers the same changes
// to each of them in a different order, and then checks outcomes and final
// state. Every replica is a real store driven by the apply engine, so a
// passing scenario shows that the conflict resolution rules make replicas
// converge regardless of delivery order.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: extra.cue            # optional, relative to the scenario
//	seed:                        # applied to every replica first
//	  - op: add
//	    dn: cn=alice,dc=example
//	    attrs:
//	      - type: objectGUID
//	        meta: "0:1:srv-a:20240101000000.000:1"
//	        vals: [guid-alice]
//	changes:
//	  - id: a
//	    partner: srv-a
//	    op: modify
//	    dn: cn=alice,dc=example
//	    attrs:
//	      - type: description
//	        meta: "0:2:srv-a:20240101000010.000:2"
//	        vals: [from-a]
//	replicas:
//	  - name: r1
//	    order: [a, b]
//	  - name: r2
//	    order: [b, a]
//	    workers: 2                 # optional, deliver as one batch
//	assertions:
//	  - type: converged
//	  - type: values
//	    dn: cn=alice,dc=example
//	    attr: description
//	    values: [from-b]
//
// Changes use the change file format of package changeset, plus an id and
// an optional partner.
//
// # Assertion Types
//
//   - converged: the replicas hold identical state
//   - values: an attribute has exactly the given values
//   - absent: no entry has the given name
//   - tombstone: the given name is a deleted object
//   - outcome: the last delivery of a change to a replica ended as given
//
// # Deterministic Testing
//
// Trace sequence numbers come from testutil.DeterministicClock, every
// change's partner USN defaults to its position in the scenario, and
// snapshots drop local sequence numbers. Results are byte-identical across
// runs and can be compared against golden files.
package harness

// Package policy gates document writes with Open Policy Agent (OPA) Rego
// policies.
//
// Every policy is a Rego module whose package defines a deny set. The engine
// evaluates each enabled policy against an Input describing the pending
// operation and collects the members of deny as violations. A violation with
// severity "error" blocks the operation; "warning" violations are logged.
//
// Built-in policies:
//
//   - protected-files: denies writes to /etc/shadow, /etc/gshadow and
//     /etc/sudoers, which must be edited with passwd, gpasswd and visudo
//   - sudoers-fragments: warns on writes under /etc/sudoers.d
//
// Creating an engine and gating a write:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if _, err := eng.LoadDir(ctx, "/etc/insta/policies"); err != nil {
//	    return err
//	}
//	patcher := engine.NewPatcher(sys, remote, engine.Options{Policy: eng})
//
// A custom policy:
//
//	package insta.policies.home
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.operation == "write"
//	    some path in input.paths
//	    startswith(path, "/root/")
//	    msg := sprintf("%s is outside the managed homes", [path])
//	}
//
// Deny members may be strings or objects with message, severity and path
// keys.
package policy

// Package config loads insta manifests and settings.
//
// A manifest is an ordered list of steps, each naming one primitive and its
// arguments, plus optional settings. Steps run in the listed order; there is
// no dependency graph between them.
//
//	settings:
//	  remote: scp
//	steps:
//	  - type: package
//	    packages: [git, tmux]
//	  - id: motd
//	    type: patch
//	    target: /etc/motd
//	    hunks:
//	      - "+Managed by insta"
//
// The same manifest in CUE:
//
//	settings: remote: "scp"
//	steps: [
//		{type: "package", packages: ["git", "tmux"]},
//		{id: "motd", type: "patch", target: "/etc/motd", hunks: ["+Managed by insta"]},
//	]
//
// CUE manifests are checked against a closed schema before decoding. Both
// formats are then validated with struct tags and per-type field checks;
// every problem found is reported at once as ValidationErrors.
package config

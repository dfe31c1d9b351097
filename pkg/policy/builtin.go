package policy

// GetBuiltinPolicies returns the policies every engine starts with.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "protected-files",
			Description: "Credential and sudo databases must be edited with their dedicated tools",
			Severity:    SeverityError,
			Enabled:     true,
			Builtin:     true,
			Rego: `package insta.policies.protected

import rego.v1

tools := {
	"/etc/shadow": "passwd or usermod",
	"/etc/gshadow": "gpasswd",
	"/etc/sudoers": "visudo",
}

deny contains violation if {
	input.operation == "write"
	some path in input.paths
	tool := tools[path]
	violation := {
		"message": sprintf("%s must be edited with %s", [path, tool]),
		"path": path,
	}
}
`,
		},
		{
			Name:        "sudoers-fragments",
			Description: "Files under /etc/sudoers.d are not validated on write",
			Severity:    SeverityWarning,
			Enabled:     true,
			Builtin:     true,
			Rego: `package insta.policies.sudoers

import rego.v1

deny contains violation if {
	input.operation == "write"
	some path in input.paths
	startswith(path, "/etc/sudoers.d/")
	violation := {
		"message": sprintf("%s is not checked with visudo -c", [path]),
		"path": path,
	}
}
`,
		},
	}
}

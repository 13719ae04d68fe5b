package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		forgeNamingPolicy(),
		flavorAllowlistPolicy(),
		sshPortPolicy(),
	}
}

// forgeNamingPolicy keeps forge names usable as a server name suffix and a
// DNS label.
func forgeNamingPolicy() Policy {
	return Policy{
		Name:        "forge-naming",
		Description: "Forge names are lowercase alphanumeric with hyphens, 1 to 40 characters",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package forj.policies.naming

import rego.v1

deny contains violation if {
	input.forge == ""
	violation := {
		"message": "A forge name is required",
		"severity": "error",
	}
}

deny contains violation if {
	input.forge != ""
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", input.forge)
	violation := {
		"message": sprintf("Forge name '%s' must be lowercase alphanumeric with hyphens", [input.forge]),
		"severity": "error",
	}
}

deny contains violation if {
	count(input.forge) > 40
	violation := {
		"message": sprintf("Forge name '%s' is longer than 40 characters", [input.forge]),
		"severity": "error",
	}
}`,
	}
}

// flavorAllowlistPolicy refuses flavors outside the configured list.
func flavorAllowlistPolicy() Policy {
	return Policy{
		Name:        "flavor-allowlist",
		Description: "The maestro and blueprint flavors must be allowed when an allow-list is configured",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package forj.policies.flavor

import rego.v1

deny contains violation if {
	count(input.allowed_flavors) > 0
	not input.flavor in input.allowed_flavors
	violation := {
		"message": sprintf("Flavor '%s' is not allowed (allowed: %v)", [input.flavor, input.allowed_flavors]),
		"severity": "error",
	}
}

deny contains violation if {
	count(input.allowed_flavors) > 0
	input.bp_flavor
	not input.bp_flavor in input.allowed_flavors
	violation := {
		"message": sprintf("Blueprint flavor '%s' is not allowed (allowed: %v)", [input.bp_flavor, input.allowed_flavors]),
		"severity": "error",
	}
}`,
	}
}

// sshPortPolicy warns when the security group will not open ssh.
func sshPortPolicy() Policy {
	return Policy{
		Name:        "ssh-port",
		Description: "Port 22 should be opened to reach the maestro box",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package forj.policies.ssh

import rego.v1

deny contains violation if {
	not "22" in input.ports
	violation := {
		"message": sprintf("Port 22 is not opened by security group '%s'. 'forj ssh' will not work", [input.security_group]),
		"severity": "warning",
	}
}`,
	}
}

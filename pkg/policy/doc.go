// Package policy gates forge boots with Open Policy Agent (OPA) policies.
//
// Every policy is a Rego module defining a "deny" set in its own package.
// A boot is evaluated before any cloud resource is created: the request is
// passed as input and each deny entry becomes a violation. Violations of
// severity error or critical refuse the boot, lower severities are reported
// as warnings.
//
// # Built-in Policies
//
//  1. forge-naming - forge names are lowercase alphanumeric with hyphens
//  2. flavor-allowlist - the maestro flavor must be allowed when a list is set
//  3. ssh-port - port 22 must be opened by the security group
//
// # Custom Policies
//
// Extra policies are loaded from ~/.forj/policies (".rego" or ".json"):
//
//	package forj.custom.region
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.provider == "hpcloud"
//	    input.compute != "region-a.geo-1"
//	    violation := {"message": "only region-a.geo-1 is allowed", "severity": "error"}
//	}
//
// The loader watches those directories with fsnotify and the engine reloads
// them on change.
package policy

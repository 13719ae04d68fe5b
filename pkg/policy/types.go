package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity refuses a boot.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result represents the result of a boot evaluation.
type Result struct {
	// Allowed is false when a blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists the violations that do not block the boot.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// BootInput is the forge boot request handed to policies as input.
type BootInput struct {
	Account         string   `json:"account"`
	Provider        string   `json:"provider"`
	Forge           string   `json:"forge"`
	Compute         string   `json:"compute,omitempty"`
	Image           string   `json:"image"`
	Flavor          string   `json:"flavor"`
	BlueprintFlavor string   `json:"bp_flavor,omitempty"`
	Network         string   `json:"network"`
	SecurityGroup   string   `json:"security_group"`
	Ports           []string `json:"ports"`
	Blueprint       string   `json:"blueprint,omitempty"`
	// AllowedFlavors restricts the maestro flavor when not empty.
	AllowedFlavors []string `json:"allowed_flavors,omitempty"`
}

package policy

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/groupgate/groupgate/internal/auth"
)

// currentSchemaVersion is the only schema this parser accepts.
const currentSchemaVersion = 1

// IssueSeverity classifies validation issues.
type IssueSeverity string

const (
	// SeverityError marks issues that make the document unusable.
	SeverityError IssueSeverity = "ERROR"
	// SeverityWarning marks issues worth fixing that do not block use.
	SeverityWarning IssueSeverity = "WARNING"
)

// Issue is a single lint finding for a policy document.
type Issue struct {
	Severity IssueSeverity
	Scope    string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s [%s]: %s", i.Severity, i.Scope, i.Message)
}

// DocumentError aggregates the error-severity issues of a document.
type DocumentError struct {
	Issues []Issue
}

func (e *DocumentError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Severity == SeverityError {
			msgs = append(msgs, issue.String())
		}
	}
	return "policy document is invalid: " + strings.Join(msgs, "; ")
}

// PolicyDocument is a parsed, validated policy document together with
// its lint findings.
type PolicyDocument struct {
	policy *EnvironmentPolicy
	issues []Issue
}

// Policy returns the environment tree the document describes.
func (d *PolicyDocument) Policy() *EnvironmentPolicy { return d.policy }

// Issues returns all lint findings, warnings included.
func (d *PolicyDocument) Issues() []Issue { return d.issues }

// Wire representation. Field names are part of the document format.

type documentYAML struct {
	SchemaVersion int             `yaml:"schemaVersion" validate:"required"`
	Environment   environmentYAML `yaml:"environment" validate:"required"`
}

type environmentYAML struct {
	Name        string          `yaml:"name" validate:"required"`
	Description string          `yaml:"description"`
	Access      []aceYAML       `yaml:"access"`
	Constraints constraintsYAML `yaml:"constraints"`
	Systems     []systemYAML    `yaml:"systems" validate:"dive"`
}

type systemYAML struct {
	Name        string          `yaml:"name" validate:"required"`
	Description string          `yaml:"description"`
	Access      []aceYAML       `yaml:"access"`
	Constraints constraintsYAML `yaml:"constraints"`
	Groups      []groupYAML     `yaml:"groups" validate:"dive"`
}

type groupYAML struct {
	Name        string          `yaml:"name" validate:"required"`
	Description string          `yaml:"description"`
	Access      []aceYAML       `yaml:"access"`
	Constraints constraintsYAML `yaml:"constraints"`
	Privileges  privilegesYAML  `yaml:"privileges"`
}

type aceYAML struct {
	Principal string `yaml:"principal" validate:"required"`
	Allow     string `yaml:"allow,omitempty"`
	Deny      string `yaml:"deny,omitempty"`
}

type constraintsYAML struct {
	Join    []constraintYAML `yaml:"join,omitempty"`
	Approve []constraintYAML `yaml:"approve,omitempty"`
}

type constraintYAML struct {
	Type        string         `yaml:"type" validate:"required,oneof=expression expiry"`
	Name        string         `yaml:"name,omitempty"`
	DisplayName string         `yaml:"displayName,omitempty"`
	Expression  string         `yaml:"expression,omitempty"`
	Variables   []variableYAML `yaml:"variables,omitempty" validate:"dive"`
	Min         string         `yaml:"min,omitempty"`
	Max         string         `yaml:"max,omitempty"`
}

type variableYAML struct {
	Type        string `yaml:"type" validate:"required,oneof=string boolean long duration"`
	Name        string `yaml:"name" validate:"required"`
	DisplayName string `yaml:"displayName,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
	Min         *int64 `yaml:"min,omitempty"`
	Max         *int64 `yaml:"max,omitempty"`
}

type privilegesYAML struct {
	IamRoleBindings []bindingYAML `yaml:"iamRoleBindings,omitempty" validate:"dive"`
}

type bindingYAML struct {
	Resource    resourceYAML `yaml:"resource" validate:"required"`
	Role        string       `yaml:"role" validate:"required"`
	Description string       `yaml:"description,omitempty"`
	Condition   string       `yaml:"condition,omitempty"`
}

type resourceYAML struct {
	Type string `yaml:"type" validate:"required"`
	ID   string `yaml:"id" validate:"required"`
}

// ParsePolicyDocument parses and validates a policy document, building
// the environment tree. All findings, including warnings, are
// available on the returned document; if any finding is an error, the
// returned error is a *DocumentError and the tree is nil.
func ParsePolicyDocument(text string, metadata Metadata) (*PolicyDocument, error) {
	var (
		raw documentYAML
		doc = &PolicyDocument{}
	)

	decoder := yaml.NewDecoder(strings.NewReader(text))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		doc.issues = append(doc.issues, Issue{
			Severity: SeverityError,
			Scope:    "document",
			Message:  fmt.Sprintf("malformed YAML: %v", err),
		})
		return doc, &DocumentError{Issues: doc.issues}
	}

	if raw.SchemaVersion != currentSchemaVersion {
		doc.addError("document", "unsupported schema version %d", raw.SchemaVersion)
		return doc, &DocumentError{Issues: doc.issues}
	}

	if err := validator.New().Struct(&raw); err != nil {
		var verrs validator.ValidationErrors
		if ok := isValidationErrors(err, &verrs); ok {
			for _, fe := range verrs {
				doc.addError(fe.Namespace(), "field is %s", fe.Tag())
			}
		} else {
			doc.addError("document", "validation failed: %v", err)
		}
		return doc, &DocumentError{Issues: doc.issues}
	}

	env := doc.buildEnvironment(raw.Environment, metadata)
	if doc.hasErrors() {
		return doc, &DocumentError{Issues: doc.issues}
	}

	doc.policy = env
	return doc, nil
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

func (d *PolicyDocument) addError(scope, format string, args ...any) {
	d.issues = append(d.issues, Issue{
		Severity: SeverityError,
		Scope:    scope,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (d *PolicyDocument) addWarning(scope, format string, args ...any) {
	d.issues = append(d.issues, Issue{
		Severity: SeverityWarning,
		Scope:    scope,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (d *PolicyDocument) hasErrors() bool {
	for _, issue := range d.issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (d *PolicyDocument) buildEnvironment(raw environmentYAML, metadata Metadata) *EnvironmentPolicy {
	scope := raw.Name

	acl := d.buildACL(raw.Access, scope)
	constraints := d.buildConstraints(raw.Constraints, scope)

	env, err := NewEnvironmentPolicy(raw.Name, raw.Description, acl, constraints, metadata)
	if err != nil {
		d.addError(scope, "%v", err)
		return nil
	}

	for _, rawSystem := range raw.Systems {
		system := d.buildSystem(rawSystem, scope+"."+rawSystem.Name)
		if system == nil {
			continue
		}
		if err := env.AddSystem(system); err != nil {
			d.addError(scope, "%v", err)
		}
	}

	if len(raw.Systems) == 0 {
		d.addWarning(scope, "environment contains no systems")
	}

	return env
}

func (d *PolicyDocument) buildSystem(raw systemYAML, scope string) *SystemPolicy {
	acl := d.buildACL(raw.Access, scope)
	constraints := d.buildConstraints(raw.Constraints, scope)

	system, err := NewSystemPolicy(raw.Name, raw.Description, acl, constraints)
	if err != nil {
		d.addError(scope, "%v", err)
		return nil
	}

	for _, rawGroup := range raw.Groups {
		group := d.buildGroup(rawGroup, scope+"."+rawGroup.Name)
		if group == nil {
			continue
		}
		if err := system.AddGroup(group); err != nil {
			d.addError(scope, "%v", err)
		}
	}

	return system
}

func (d *PolicyDocument) buildGroup(raw groupYAML, scope string) *JitGroupPolicy {
	acl := d.buildACL(raw.Access, scope)
	constraints := d.buildConstraints(raw.Constraints, scope)

	var bindings []IamRoleBinding
	for _, rawBinding := range raw.Privileges.IamRoleBindings {
		bindings = append(bindings, IamRoleBinding{
			Resource:  ResourceID{Type: rawBinding.Resource.Type, ID: rawBinding.Resource.ID},
			Role:      rawBinding.Role,
			Desc:      rawBinding.Description,
			Condition: rawBinding.Condition,
		})
	}

	group, err := NewJitGroupPolicy(raw.Name, raw.Description, acl, constraints, bindings)
	if err != nil {
		d.addError(scope, "%v", err)
		return nil
	}

	if !hasExpiryConstraint(constraints[ConstraintClassJoin]) {
		d.addWarning(scope, "group has no join expiry constraint; joins will fail unless an ancestor provides one")
	}

	return group
}

func (d *PolicyDocument) buildACL(raw []aceYAML, scope string) *ACL {
	if raw == nil {
		return nil
	}
	acl := &ACL{}
	for _, rawACE := range raw {
		principal, err := auth.ParsePrincipal(rawACE.Principal)
		if err != nil {
			d.addError(scope, "%v", err)
			continue
		}

		switch {
		case rawACE.Allow != "" && rawACE.Deny != "":
			d.addError(scope, "entry for %s specifies both allow and deny", rawACE.Principal)
		case rawACE.Allow != "":
			mask, err := ParsePermissions(rawACE.Allow)
			if err != nil {
				d.addError(scope, "%v", err)
				continue
			}
			acl.Entries = append(acl.Entries, Allow(principal, mask))
		case rawACE.Deny != "":
			mask, err := ParsePermissions(rawACE.Deny)
			if err != nil {
				d.addError(scope, "%v", err)
				continue
			}
			acl.Entries = append(acl.Entries, Deny(principal, mask))
		default:
			d.addError(scope, "entry for %s specifies neither allow nor deny", rawACE.Principal)
		}
	}
	if len(acl.Entries) == 0 {
		d.addWarning(scope, "access list is empty, nobody is granted access")
	}
	return acl
}

func (d *PolicyDocument) buildConstraints(raw constraintsYAML, scope string) map[ConstraintClass][]Constraint {
	constraints := map[ConstraintClass][]Constraint{}
	if join := d.buildConstraintList(raw.Join, ConstraintClassJoin, scope); len(join) > 0 {
		constraints[ConstraintClassJoin] = join
	}
	if approve := d.buildConstraintList(raw.Approve, ConstraintClassApprove, scope); len(approve) > 0 {
		constraints[ConstraintClassApprove] = approve
	}
	return constraints
}

func (d *PolicyDocument) buildConstraintList(raw []constraintYAML, class ConstraintClass, scope string) []Constraint {
	var (
		constraints []Constraint
		seen        = map[string]bool{}
	)
	for _, rawConstraint := range raw {
		var (
			constraint Constraint
			err        error
		)
		switch rawConstraint.Type {
		case "expression":
			constraint, err = d.buildExpressionConstraint(rawConstraint, class, scope)
		case "expiry":
			constraint, err = d.buildExpiryConstraint(rawConstraint)
		default:
			err = fmt.Errorf("unknown constraint type %q", rawConstraint.Type)
		}
		if err != nil {
			d.addError(scope, "%v", err)
			continue
		}
		if seen[constraint.Name()] {
			d.addError(scope, "duplicate constraint name %q", constraint.Name())
			continue
		}
		seen[constraint.Name()] = true
		constraints = append(constraints, constraint)
	}
	return constraints
}

func (d *PolicyDocument) buildExpressionConstraint(raw constraintYAML, class ConstraintClass, scope string) (Constraint, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("expression constraint requires a name")
	}
	if raw.Expression == "" {
		return nil, fmt.Errorf("constraint %q requires an expression", raw.Name)
	}

	var variables []*Property
	for _, rawVariable := range raw.Variables {
		variables = append(variables, NewProperty(
			rawVariable.Name,
			coalesce(rawVariable.DisplayName, rawVariable.Name),
			PropertyType(rawVariable.Type),
			rawVariable.Required,
			rawVariable.Min,
			rawVariable.Max))
	}

	return NewExpressionConstraint(
		raw.Name,
		coalesce(raw.DisplayName, raw.Name),
		class,
		raw.Expression,
		variables)
}

func (d *PolicyDocument) buildExpiryConstraint(raw constraintYAML) (Constraint, error) {
	min, err := parseDocumentDuration(raw.Min)
	if err != nil {
		return nil, fmt.Errorf("expiry constraint: invalid min: %w", err)
	}
	max, err := parseDocumentDuration(raw.Max)
	if err != nil {
		return nil, fmt.Errorf("expiry constraint: invalid max: %w", err)
	}
	return NewExpiryConstraint(min, max)
}

func parseDocumentDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	return time.ParseDuration(s)
}

func hasExpiryConstraint(constraints []Constraint) bool {
	for _, c := range constraints {
		if _, ok := c.(*ExpiryConstraint); ok {
			return true
		}
	}
	return false
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Text serializes the document's policy tree back into canonical YAML,
// used by the export endpoint and the lint command.
func (d *PolicyDocument) Text() (string, error) {
	if d.policy == nil {
		return "", fmt.Errorf("document has no policy")
	}

	raw := documentYAML{
		SchemaVersion: currentSchemaVersion,
		Environment: environmentYAML{
			Name:        d.policy.Name(),
			Description: d.policy.Description(),
			Access:      exportACL(d.policy.ACL()),
			Constraints: exportConstraints(d.policy),
		},
	}

	for _, system := range d.policy.Systems() {
		rawSystem := systemYAML{
			Name:        system.Name(),
			Description: system.Description(),
			Access:      exportACL(system.ACL()),
			Constraints: exportConstraints(system),
		}
		for _, group := range system.Groups() {
			rawGroup := groupYAML{
				Name:        group.Name(),
				Description: group.Description(),
				Access:      exportACL(group.ACL()),
				Constraints: exportConstraints(group),
			}
			for _, binding := range group.Privileges() {
				rawGroup.Privileges.IamRoleBindings = append(rawGroup.Privileges.IamRoleBindings, bindingYAML{
					Resource:    resourceYAML{Type: binding.Resource.Type, ID: binding.Resource.ID},
					Role:        binding.Role,
					Description: binding.Desc,
					Condition:   binding.Condition,
				})
			}
			rawSystem.Groups = append(rawSystem.Groups, rawGroup)
		}
		raw.Environment.Systems = append(raw.Environment.Systems, rawSystem)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&raw); err != nil {
		return "", err
	}
	if err := encoder.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DocumentFromPolicy wraps an existing tree for export.
func DocumentFromPolicy(policy *EnvironmentPolicy) *PolicyDocument {
	return &PolicyDocument{policy: policy}
}

func exportACL(acl *ACL) []aceYAML {
	if acl == nil {
		return nil
	}
	entries := make([]aceYAML, 0, len(acl.Entries))
	for _, ace := range acl.Entries {
		raw := aceYAML{Principal: ace.Principal.String()}
		if ace.Effect == EffectDeny {
			raw.Deny = ace.Mask.String()
		} else {
			raw.Allow = ace.Mask.String()
		}
		entries = append(entries, raw)
	}
	return entries
}

func exportConstraints(node Policy) constraintsYAML {
	return constraintsYAML{
		Join:    exportConstraintList(node.Constraints(ConstraintClassJoin)),
		Approve: exportConstraintList(node.Constraints(ConstraintClassApprove)),
	}
}

func exportConstraintList(constraints []Constraint) []constraintYAML {
	var out []constraintYAML
	for _, constraint := range constraints {
		switch c := constraint.(type) {
		case *ExpiryConstraint:
			out = append(out, constraintYAML{
				Type: "expiry",
				Min:  c.Min().String(),
				Max:  c.Max().String(),
			})
		case *ExpressionConstraint:
			raw := constraintYAML{
				Type:        "expression",
				Name:        c.Name(),
				DisplayName: c.DisplayName(),
				Expression:  c.Expression(),
			}
			for _, v := range c.Variables() {
				rawVariable := variableYAML{
					Type:        string(v.Type()),
					Name:        v.Name(),
					DisplayName: v.DisplayName(),
					Required:    v.Required(),
				}
				if lo, ok := v.MinInclusive(); ok {
					rawVariable.Min = &lo
				}
				if hi, ok := v.MaxInclusive(); ok {
					rawVariable.Max = &hi
				}
				raw.Variables = append(raw.Variables, rawVariable)
			}
			out = append(out, raw)
		}
	}
	return out
}

package model

import (
	"time"
)

// PuppetCAFeature is the smart proxy feature tag that marks a proxy as able to
// revoke and list agent certificates.
const PuppetCAFeature = "Puppet CA"

// Node is the persisted identity record of a managed compute node.
type Node struct {
	ID            int64      `json:"id"                    db:"id"`
	Name          string     `json:"name"                  db:"name"`
	Certname      string     `json:"certname"              db:"certname"`
	EnvironmentID int64      `json:"environment_id"        db:"environment_id"`
	HostgroupID   int64      `json:"hostgroup_id"          db:"hostgroup_id"`
	MAC           string     `json:"mac,omitempty"         db:"mac"`
	Comment       string     `json:"comment,omitempty"     db:"comment"`
	LastReport    *time.Time `json:"last_report,omitempty" db:"last_report"`
	CreatedAt     time.Time  `json:"created_at"            db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"            db:"updated_at"`
}

// SmartProxy is a registered proxy service. Only proxies carrying
// PuppetCAFeature are used for certificate operations.
type SmartProxy struct {
	ID        int64     `json:"id"         db:"id"`
	Name      string    `json:"name"       db:"name"`
	URL       string    `json:"url"        db:"url"`
	Features  []string  `json:"features"   db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HasFeature reports whether the proxy advertises the named feature.
func (p *SmartProxy) HasFeature(name string) bool {
	for _, f := range p.Features {
		if f == name {
			return true
		}
	}
	return false
}

// Environment is a named configuration environment a node is deployed into.
type Environment struct {
	ID   int64  `json:"id"   db:"id"`
	Name string `json:"name" db:"name"`
}

// Hostgroup is a named group of nodes sharing configuration.
type Hostgroup struct {
	ID   int64  `json:"id"   db:"id"`
	Name string `json:"name" db:"name"`
}

// CertificateState is the presence of a certificate on the CA as reported by
// the proxy at query time. It is never stored.
type CertificateState string

const (
	CertificatePresent CertificateState = "present"
	CertificateAbsent  CertificateState = "absent"
	CertificateUnknown CertificateState = "unknown"
)

// Action is the branch of the registration state machine that ran for a
// request.
type Action string

const (
	ActionCreate          Action = "create"
	ActionUpdateAndRevoke Action = "update-then-revoke"
	ActionRevokeOnly      Action = "revoke-only"
	ActionDestroy         Action = "destroy"
	ActionReset           Action = "reset"
	ActionNone            Action = "none"
)

// Operation names a caller-visible registration operation.
type Operation string

const (
	OpRegister     Operation = "register"
	OpDecommission Operation = "decommission"
	OpReset        Operation = "reset"
	OpStatus       Operation = "status"
	OpList         Operation = "list"
)

// Mutating reports whether the operation writes to the node store or the CA.
func (o Operation) Mutating() bool {
	switch o {
	case OpRegister, OpDecommission, OpReset:
		return true
	}
	return false
}

// Caller roles. RoleRegistrar carries the register_node permission; RoleAdmin
// carries every permission.
const (
	RoleAdmin     = "admin"
	RoleRegistrar = "registrar"
	RoleViewer    = "viewer"
)

// Caller is the authenticated identity behind a request. It is threaded
// explicitly through service calls.
type Caller struct {
	Login    string `json:"login"`
	Role     string `json:"role"`
	SourceIP string `json:"source_ip"`
}

// Outcome is the result of a mutating registration operation.
type Outcome struct {
	Operation Operation `json:"operation"`
	Action    Action    `json:"action"`
	Node      *Node     `json:"node,omitempty"`
}

// RegistrationStatus is returned by the status lookup. All fields are nil when
// no node carries the requested certname.
type RegistrationStatus struct {
	Name           *string    `json:"name"`
	LastReport     *time.Time `json:"last_report"`
	HasCertificate *bool      `json:"has_certificate"`
}

package models

import (
	"slices"

	"github.com/google/uuid"
)

// ActorKind identifies one of the five actor classes.
type ActorKind string

const (
	KindCustomer ActorKind = "customer"
	KindVendor   ActorKind = "vendor"
	KindChef     ActorKind = "chef"
	KindDriver   ActorKind = "driver"
	KindAdmin    ActorKind = "admin"

	// KindSystem attributes background transitions. It never authenticates.
	KindSystem ActorKind = "system"
)

func (k ActorKind) Valid() bool {
	switch k {
	case KindCustomer, KindVendor, KindChef, KindDriver, KindAdmin:
		return true
	}
	return false
}

// Vendor and admin roles.
const (
	RoleOwner      = "owner"
	RoleManager    = "manager"
	RoleStaff      = "staff"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Capabilities checked by Principal.Can.
const (
	CapManageCatalog   = "catalog:write"
	CapManageOrders    = "orders:override"
	CapManageDispatch  = "dispatch:manage"
	CapManageMarketing = "marketing:manage"
	CapManageSupport   = "support:manage"
	CapManagePromos    = "promotions:manage"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Kind        ActorKind `json:"kind"`
	ID          uuid.UUID `json:"id"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

// Is reports whether the principal is one of kinds.
func (p Principal) Is(kinds ...ActorKind) bool {
	return slices.Contains(kinds, p.Kind)
}

// Can reports whether the principal holds capability.
func (p Principal) Can(capability string) bool {
	switch p.Kind {
	case KindAdmin:
		return p.Role == RoleSuperAdmin || slices.Contains(p.Permissions, capability)
	case KindVendor:
		if capability == CapManageCatalog || capability == CapManagePromos {
			return p.Role == RoleOwner || p.Role == RoleManager
		}
		return true
	default:
		return true
	}
}

// Ref returns the principal as an actor reference.
func (p Principal) Ref() ActorRef {
	id := p.ID
	return ActorRef{Kind: p.Kind, ID: &id}
}

// ActorRef addresses an actor. ID is nil only for the shared admin inbox.
type ActorRef struct {
	Kind ActorKind  `json:"kind"`
	ID   *uuid.UUID `json:"id"`
}

// SystemActor is recorded for sweeper and event-driven changes.
func SystemActor() ActorRef {
	return ActorRef{Kind: KindSystem}
}

// AdminInbox addresses every admin.
func AdminInbox() ActorRef {
	return ActorRef{Kind: KindAdmin}
}

func (r ActorRef) IsAdminInbox() bool {
	return r.Kind == KindAdmin && r.ID == nil
}

func (r ActorRef) Equal(o ActorRef) bool {
	if r.Kind != o.Kind {
		return false
	}
	if r.ID == nil || o.ID == nil {
		return r.ID == nil && o.ID == nil
	}
	return *r.ID == *o.ID
}

// Credentials is what login needs from an actor row.
type Credentials struct {
	ID           uuid.UUID
	PasswordHash string
	IsActive     bool
}

// ActorStatus is the row state checked on every authenticated request.
type ActorStatus struct {
	Exists      bool
	IsActive    bool
	Role        string
	Permissions []string
}

package rbac

import (
	"context"

	"itinera/api/internal/errs"
	"itinera/api/internal/store"
)

type Role string
type Action string

const (
	RoleOwner        Role = "owner"
	RoleCollaborator Role = "collaborator"
	RoleVisitor      Role = "visitor"
)

const (
	ActionRead Action = "read"
	ActionEdit Action = "edit"
	ActionCopy Action = "copy"
	// ActionManage covers privacy, collaborators, metadata and deletion.
	ActionManage Action = "manage"
)

func Can(role Role, privacy store.Privacy, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleCollaborator:
		switch action {
		case ActionRead, ActionEdit:
			return true
		case ActionCopy:
			return privacy == store.PrivacyPublic
		default:
			return false
		}
	case RoleVisitor:
		switch action {
		case ActionRead:
			return privacy != store.PrivacyPrivate
		case ActionCopy:
			return privacy == store.PrivacyPublic
		default:
			return false
		}
	default:
		return false
	}
}

// Lookup is the read side of the store the gate needs.
type Lookup interface {
	GetTemplate(ctx context.Context, id string) (store.Template, error)
	IsCollaborator(ctx context.Context, templateID, userID string) (bool, error)
}

// Gate resolves the caller's role on a template and rejects actions it does
// not allow. A missing template is NotFound, a rejected action Forbidden.
type Gate struct {
	lookup Lookup
}

func NewGate(lookup Lookup) *Gate {
	return &Gate{lookup: lookup}
}

// RoleOf returns the caller's role on tpl. An empty userID is anonymous.
func (g *Gate) RoleOf(ctx context.Context, tpl store.Template, userID string) (Role, error) {
	if userID == "" {
		return RoleVisitor, nil
	}
	if tpl.OwnerUserID == userID {
		return RoleOwner, nil
	}
	ok, err := g.lookup.IsCollaborator(ctx, tpl.ID, userID)
	if err != nil {
		return "", errs.Storage("check collaborator", err)
	}
	if ok {
		return RoleCollaborator, nil
	}
	return RoleVisitor, nil
}

// Authorize loads the template and checks action for userID.
func (g *Gate) Authorize(ctx context.Context, templateID, userID string, action Action) (store.Template, Role, error) {
	tpl, err := g.lookup.GetTemplate(ctx, templateID)
	if err != nil {
		return store.Template{}, "", errs.Storage("load template", err)
	}
	role, err := g.RoleOf(ctx, tpl, userID)
	if err != nil {
		return store.Template{}, "", err
	}
	if !Can(role, tpl.Privacy, action) {
		return store.Template{}, role, errs.Forbidden("%s is not allowed on template %s", action, templateID)
	}
	return tpl, role, nil
}

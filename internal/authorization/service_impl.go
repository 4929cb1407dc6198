package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const ObjectInventory = "inventory"

const (
	ActionInventoryView   = "inventory.view"
	ActionInventoryAdjust = "inventory.adjust"
)

const (
	RoleAdmin  = "admin"
	RoleStaff  = "staff"
	RoleSystem = "system"
)

const rolePrefix = "role:"

// Built-in grants. Each role inherits everything the role it is linked to
// may do, so admin can view because staff can.
var (
	builtinPolicies = [][]string{
		{rolePrefix + RoleStaff, ObjectInventory, ActionInventoryView},
		{rolePrefix + RoleAdmin, ObjectInventory, ActionInventoryAdjust},
	}
	builtinRoleLinks = [][]string{
		{rolePrefix + RoleAdmin, rolePrefix + RoleStaff},
		{rolePrefix + RoleSystem, rolePrefix + RoleAdmin},
	}
)

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies from the casbin_rule table. Operators may add
// rows there; the built-in grants are inserted when missing.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if _, err := enforcer.AddPoliciesEx(builtinPolicies); err != nil {
		return nil, err
	}
	if _, err := enforcer.AddGroupingPoliciesEx(builtinRoleLinks); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize checks the role carried by the caller's token. Roles are never
// persisted per actor, so a reissued token with a lower role takes effect on
// the next request.
func (s *ServiceImpl) Authorize(ctx context.Context, actor, role, object, action string) error {
	actor = strings.TrimSpace(actor)
	role = strings.ToLower(strings.TrimSpace(role))
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	switch {
	case actor == "":
		return ErrInvalidActor
	case role == "":
		return ErrInvalidRole
	case object == "":
		return ErrInvalidObject
	case action == "":
		return ErrInvalidAction
	}

	allowed, matched, err := s.enforcer.EnforceEx(rolePrefix+role, object, action)
	if err != nil {
		return err
	}

	log := s.log.With(
		zap.String("actor", actor),
		zap.String("role", role),
		zap.String("object", object),
		zap.String("action", action),
	)
	if !allowed {
		log.Warn("authorization denied")
		return ErrForbidden
	}
	if action == ActionInventoryAdjust {
		log.Info("authorization granted", zap.Strings("rule", matched))
	}
	return nil
}

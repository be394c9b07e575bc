package authz

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/sirupsen/logrus"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// builtinPolicies are the default grants when no policy file is configured.
// Each row is role, object, action.
var builtinPolicies = [][]string{
	{"student", "courses", "read"},
	{"student", "assignments", "submit"},
	{"reviewer", "submissions", "review"},
	{"teacher", "courses", "write"},
	{"teacher", "grades", "write"},
	{"admin", "users", "manage"},
	{"admin", "imports", "manage"},
}

// builtinRoles lists role inheritance as member, parent.
var builtinRoles = [][]string{
	{"reviewer", "student"},
	{"teacher", "reviewer"},
	{"admin", "teacher"},
}

type Config struct {
	ModelPath  string
	PolicyPath string
	Logger     *logrus.Entry
}

// RoleDefaults resolves the default permission set of a group from casbin
// policy, following role inheritance.
type RoleDefaults struct {
	enforcer *casbin.Enforcer
	logger   *logrus.Entry
	mu       sync.RWMutex
}

func NewRoleDefaults(cfg Config) (*RoleDefaults, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("component", "role_defaults")
	}

	enf, err := newEnforcer(cfg)
	if err != nil {
		return nil, err
	}
	return &RoleDefaults{enforcer: enf, logger: logger}, nil
}

func newEnforcer(cfg Config) (*casbin.Enforcer, error) {
	if cfg.ModelPath != "" && cfg.PolicyPath != "" {
		enf, err := casbin.NewEnforcer(cfg.ModelPath, fileadapter.NewAdapter(cfg.PolicyPath))
		if err != nil {
			return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
		}
		if err := enf.LoadPolicy(); err != nil {
			return nil, fmt.Errorf("authz: failed to load policies: %w", err)
		}
		return enf, nil
	}

	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: invalid built-in model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}
	if _, err := enf.AddPolicies(builtinPolicies); err != nil {
		return nil, fmt.Errorf("authz: failed to add built-in policies: %w", err)
	}
	if _, err := enf.AddGroupingPolicies(builtinRoles); err != nil {
		return nil, fmt.Errorf("authz: failed to add built-in roles: %w", err)
	}
	return enf, nil
}

// Resolve returns object.action permissions granted to group directly or
// through inherited roles. An unknown group resolves to an empty set.
func (d *RoleDefaults) Resolve(ctx context.Context, group string) (domain.PermissionSet, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	group = strings.ToLower(strings.TrimSpace(group))
	rows, err := d.enforcer.GetImplicitPermissionsForUser(group)
	if err != nil {
		return nil, fmt.Errorf("authz: resolve %s: %w", group, err)
	}

	perms := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		perms = append(perms, row[1]+"."+row[2])
	}
	if len(perms) == 0 {
		d.logger.WithContext(ctx).WithField("group", group).Warn("no default permissions for group")
	}
	return domain.NewPermissionSet(perms...), nil
}

// ReloadPolicy reloads policy data from the configured adapter. The api
// server calls it on SIGHUP.
func (d *RoleDefaults) ReloadPolicy(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enforcer.GetAdapter() == nil {
		return nil
	}
	if err := d.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("authz: reload policy failed: %w", err)
	}
	d.logger.WithContext(ctx).Info("authz policy reloaded")
	return nil
}

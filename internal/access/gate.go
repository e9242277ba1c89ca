// Package access decides whether a caller may run a registration operation.
//
// Two checks apply to mutating operations: the caller's source address must
// appear in the registration allow-list, and the caller's role must carry the
// register_node permission. Read-only operations only require an
// authenticated caller.
package access

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/repository"
	"go.uber.org/zap"
)

// Permissions granted by roles.
const (
	PermRegisterNode = "register_node"
	PermViewAudit    = "view_audit"
)

// DefaultAllowedHosts is used when neither the settings store nor the
// configuration names any host.
var DefaultAllowedHosts = []string{"127.0.0.1"}

var rolePermissions = map[string][]string{
	model.RoleRegistrar: {PermRegisterNode},
	model.RoleViewer:    {},
}

// Allowed reports whether role carries perm. Admins carry every permission.
func Allowed(role, perm string) bool {
	if role == model.RoleAdmin {
		return true
	}
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// settingsReader is satisfied by *repository.SettingsRepository.
type settingsReader interface {
	StringSlice(ctx context.Context, name string) ([]string, error)
}

// Gate implements service.Gate.
type Gate struct {
	settings settingsReader // nil = configuration only
	fallback []string
	logger   *zap.Logger
}

// NewGate creates a Gate. The allow-list is read from settings on every call
// so operators can change it without a restart; fallback applies while the
// setting has never been written.
func NewGate(settings settingsReader, fallback []string, logger *zap.Logger) *Gate {
	if len(fallback) == 0 {
		fallback = DefaultAllowedHosts
	}
	return &Gate{settings: settings, fallback: fallback, logger: logger}
}

// Permit returns nil when caller may run op, model.ErrForbidden (wrapped)
// when it may not, or a store error when the allow-list cannot be read.
func (g *Gate) Permit(ctx context.Context, caller model.Caller, op model.Operation) error {
	if caller.Login == "" {
		return fmt.Errorf("%w: authentication required", model.ErrForbidden)
	}
	if !op.Mutating() {
		return nil
	}

	hosts, err := g.allowedHosts(ctx)
	if err != nil {
		return err
	}
	if !MatchHost(hosts, caller.SourceIP) {
		g.logger.Warn("registration from host outside allow-list",
			zap.String("source_ip", caller.SourceIP),
			zap.String("caller", caller.Login),
			zap.String("operation", string(op)),
		)
		return fmt.Errorf("%w: host %s is not allowed to %s", model.ErrForbidden, caller.SourceIP, op)
	}
	if !Allowed(caller.Role, PermRegisterNode) {
		return fmt.Errorf("%w: user %s lacks the %s permission", model.ErrForbidden, caller.Login, PermRegisterNode)
	}
	return nil
}

func (g *Gate) allowedHosts(ctx context.Context) ([]string, error) {
	if g.settings == nil {
		return g.fallback, nil
	}
	hosts, err := g.settings.StringSlice(ctx, repository.SettingAllowedHosts)
	if errors.Is(err, repository.ErrSettingNotFound) {
		return g.fallback, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read allowed hosts: %w", err)
	}
	return hosts, nil
}

// MatchHost reports whether ip equals one of the listed addresses or falls
// inside one of the listed CIDR ranges. Unparseable entries never match.
func MatchHost(hosts []string, ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if strings.Contains(h, "/") {
			prefix, err := netip.ParsePrefix(h)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(h); err == nil && other.Unmap() == addr {
			return true
		}
	}
	return false
}

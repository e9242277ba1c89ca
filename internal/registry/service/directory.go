package service

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
	"go.uber.org/zap"
)

// proxyLister is satisfied by *repository.ProxyRepository.
type proxyLister interface {
	ListByFeature(ctx context.Context, feature string) ([]*model.SmartProxy, error)
}

// CADirectory locates the smart proxy serving Puppet CA requests. It holds no
// state between calls; proxy configuration may change at any time.
type CADirectory struct {
	proxies proxyLister
	logger  *zap.Logger
}

// NewCADirectory creates a CADirectory.
func NewCADirectory(proxies proxyLister, logger *zap.Logger) *CADirectory {
	return &CADirectory{proxies: proxies, logger: logger}
}

// Resolve returns the active CA proxy. Zero proxies is model.ErrCANotConfigured;
// with several, the oldest registration wins and a warning is logged.
func (d *CADirectory) Resolve(ctx context.Context) (*model.SmartProxy, error) {
	proxies, err := d.proxies.ListByFeature(ctx, model.PuppetCAFeature)
	if err != nil {
		return nil, fmt.Errorf("look up CA proxies: %w", err)
	}
	if len(proxies) == 0 {
		return nil, model.ErrCANotConfigured
	}
	if len(proxies) > 1 {
		d.logger.Warn("more than one `Puppet CA` proxy defined, using the first",
			zap.Int("count", len(proxies)),
			zap.String("proxy", proxies[0].Name),
			zap.String("url", proxies[0].URL),
		)
	}
	return proxies[0], nil
}

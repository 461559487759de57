// Package cache собирает уровни хранения рейтинга поверх провайдеров:
// edge-бандл с memo в памяти и региональные записи по ключу.
package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/cache/providers"
	"ranking-cache-service/internal/config"
)

// Tiers — открытые хранилища, назначенные на роли из секции tiers.
type Tiers struct {
	Mapper   *dto.KeyMapper
	Edge     *EdgeBundleStore // nil, если роль edge не задана
	Regional *RegionalStore
	NG       providers.CacheProvider
	Registry *providers.Registry
}

// CreateTiers opens every provider bound to a role and wires the stores.
func CreateTiers(ctx context.Context, appConfig *config.AppConfig) (*Tiers, error) {
	registry, err := providers.OpenRegistry(ctx, appConfig.UsedProviders())
	if err != nil {
		zap.S().Errorw(alert.Prefix("Ошибка открытия провайдеров"), "error", err)
		return nil, err
	}
	tiers, err := NewTiers(registry, appConfig)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	return tiers, nil
}

// NewTiers wires stores over an already opened registry.
func NewTiers(registry *providers.Registry, appConfig *config.AppConfig) (*Tiers, error) {
	mapper := dto.NewKeyMapper(appConfig.Tiers.Prefix)

	regional, ok := registry.Get(appConfig.Tiers.Regional)
	if !ok {
		return nil, fmt.Errorf("regional provider %q is not open", appConfig.Tiers.Regional)
	}
	ng, ok := registry.Get(appConfig.Tiers.NG)
	if !ok {
		return nil, fmt.Errorf("ng provider %q is not open", appConfig.Tiers.NG)
	}

	tiers := &Tiers{
		Mapper:   mapper,
		Regional: NewRegionalStore(regional, mapper),
		NG:       ng,
		Registry: registry,
	}

	if appConfig.Tiers.Edge != "" {
		edge, ok := registry.Get(appConfig.Tiers.Edge)
		if !ok {
			return nil, fmt.Errorf("edge provider %q is not open", appConfig.Tiers.Edge)
		}
		var memo providers.CacheProvider
		if appConfig.Tiers.Memo != "" {
			memo, _ = registry.Get(appConfig.Tiers.Memo)
		}
		tiers.Edge = NewEdgeBundleStore(edge, memo, mapper, appConfig.Resolver.BundleMemoTTL)
	}

	zap.S().Infow("Уровни кэша собраны",
		"edge", appConfig.Tiers.Edge, "memo", appConfig.Tiers.Memo,
		"regional", appConfig.Tiers.Regional, "ng", appConfig.Tiers.NG)
	return tiers, nil
}

func (t *Tiers) Close() error {
	return t.Registry.Close()
}

package config

type TierRole string

const (
	TierEdge     TierRole = "edge"
	TierMemo     TierRole = "memo"
	TierRegional TierRole = "regional"
	TierNG       TierRole = "ng"
)

// TierProvider возвращает конфигурацию провайдера, назначенного на роль.
// Для необязательных ролей (edge, memo) второй результат false, если роль не задана.
func (c *AppConfig) TierProvider(role TierRole) (Provider, bool) {
	var name string
	switch role {
	case TierEdge:
		name = c.Tiers.Edge
	case TierMemo:
		name = c.Tiers.Memo
	case TierRegional:
		name = c.Tiers.Regional
	case TierNG:
		name = c.Tiers.NG
	}
	if name == "" {
		return nil, false
	}
	return c.Providers.ByName(name)
}

// UsedProviders returns the distinct provider configs bound to any tier role
// or to the gateway counter.
func (c *AppConfig) UsedProviders() []Provider {
	seen := make(map[string]bool)
	used := make([]Provider, 0, len(c.Providers))
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if p, ok := c.Providers.ByName(name); ok {
			seen[name] = true
			used = append(used, p)
		}
	}
	add(c.Tiers.Edge)
	add(c.Tiers.Memo)
	add(c.Tiers.Regional)
	add(c.Tiers.NG)
	if c.Gateway.Counter != "memory" {
		add(c.Gateway.Counter)
	}
	return used
}

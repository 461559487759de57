package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	DefaultCookie    = "sensitive_material_status=accept"

	maxEnrichmentBatch = 100
	defaultTagItemCap  = 300
	defaultMaxPages    = 20
	defaultStaleAfter  = 30 * time.Minute
	hourPeriodTTL      = 3600 * time.Second
	dayPeriodTTL       = 86400 * time.Second
)

type AppConfigIntermediary struct {
	Providers  Providers        `yaml:"providers"`
	Tiers      TiersConfig      `yaml:"tiers"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Fixture    FixtureConfig    `yaml:"fixture"`
	Warmer     WarmerConfig     `yaml:"warmer"`
	Server     ServerConfig     `yaml:"server"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

///////////////////////////////////////////////////////////
/// Sections
///////////////////////////////////////////////////////////

// TiersConfig binds storage roles to provider names.
type TiersConfig struct {
	Prefix   string `yaml:"prefix"`
	Edge     string `yaml:"edge"`     // глобальный бандл (redis)
	Memo     string `yaml:"memo"`     // распакованный бандл в памяти (ristretto)
	Regional string `yaml:"regional"` // записи по ключу (redis)
	NG       string `yaml:"ng"`       // NG-список (redis или rocksdb)
}

type AccessConfig struct {
	Strategy  string `yaml:"strategy"` // crawler | direct
	UserAgent string `yaml:"userAgent"`
	Cookie    string `yaml:"cookie"`
}

type UpstreamConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxPages   int           `yaml:"maxPages"`
	TagItemCap int           `yaml:"tagItemCap"`
	Access     AccessConfig  `yaml:"access"`
}

type EnrichmentConfig struct {
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url"`
	BatchSize int           `yaml:"batchSize"`
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"userAgent"`
}

type PeriodPolicy struct {
	TTL        time.Duration `yaml:"ttl"`
	StaleAfter time.Duration `yaml:"staleAfter"`
}

type ResolverConfig struct {
	FetchTimeout           time.Duration           `yaml:"fetchTimeout"`
	RefreshTimeout         time.Duration           `yaml:"refreshTimeout"`
	MaxConcurrentRefreshes int                     `yaml:"maxConcurrentRefreshes"`
	BundleMemoTTL          time.Duration           `yaml:"bundleMemoTTL"`
	Periods                map[string]PeriodPolicy `yaml:"periods"`
}

// Policy returns TTL and staleness threshold for a period; unknown periods
// get the daily policy.
func (c ResolverConfig) Policy(period string) PeriodPolicy {
	if p, ok := c.Periods[period]; ok {
		return p
	}
	return PeriodPolicy{TTL: dayPeriodTTL, StaleAfter: defaultStaleAfter}
}

type FixtureConfig struct {
	Path string `yaml:"path"` // пусто — встроенный набор
}

type WarmTag struct {
	Genre string `yaml:"genre"`
	Tag   string `yaml:"tag"`
}

type WarmerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Genres      []string      `yaml:"genres"`
	Periods     []string      `yaml:"periods"`
	Tags        []WarmTag     `yaml:"tags"`
}

type ServerConfig struct {
	APIPort     int    `yaml:"apiPort"`
	MetricsPort int    `yaml:"metricsPort"`
	AdminToken  string `yaml:"adminToken"`

	// NGFoldCase: частичные NG-правила без учёта регистра.
	NGFoldCase bool `yaml:"ngFoldCase"`
}

type RouteLimits struct {
	API   int `yaml:"api"`
	Page  int `yaml:"page"`
	Admin int `yaml:"admin"`
}

type GatewayConfig struct {
	Listen            string        `yaml:"listen"`
	MetricsListen     string        `yaml:"metricsListen"`
	Target            string        `yaml:"target"`
	Window            time.Duration `yaml:"window"`
	Limits            RouteLimits   `yaml:"limits"`
	StaticPrefixes    []string      `yaml:"staticPrefixes"`
	AdminPrefixes     []string      `yaml:"adminPrefixes"`
	APIPrefixes       []string      `yaml:"apiPrefixes"`
	Counter           string        `yaml:"counter"` // "memory" или имя redis-провайдера
	CounterCapacity   int           `yaml:"counterCapacity"`
	TrustForwardedFor bool          `yaml:"trustForwardedFor"`
	ForwardToken      string        `yaml:"forwardToken"`

	// AdminTokens — учётные данные клиентов admin-маршрутов; пустой список
	// закрывает admin-маршруты на gateway.
	AdminTokens []string `yaml:"adminTokens"`
}

type LoggingConfig struct {
	Mode  string `yaml:"mode"` // development | production
	Level string `yaml:"level"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

///////////////////////////////////////////////////////////
/// Defaults
///////////////////////////////////////////////////////////

func (c *AppConfigIntermediary) applyDefaults() {
	if c.Tiers.Prefix == "" {
		c.Tiers.Prefix = "ranking"
	}

	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 10 * time.Second
	}
	if c.Upstream.MaxPages == 0 {
		c.Upstream.MaxPages = defaultMaxPages
	}
	if c.Upstream.TagItemCap == 0 {
		c.Upstream.TagItemCap = defaultTagItemCap
	}
	if c.Upstream.Access.Strategy == "" {
		c.Upstream.Access.Strategy = "crawler"
	}
	if c.Upstream.Access.UserAgent == "" {
		c.Upstream.Access.UserAgent = DefaultUserAgent
	}
	if c.Upstream.Access.Cookie == "" {
		c.Upstream.Access.Cookie = DefaultCookie
	}

	if c.Enrichment.BatchSize == 0 {
		c.Enrichment.BatchSize = maxEnrichmentBatch
	}
	if c.Enrichment.Interval == 0 {
		c.Enrichment.Interval = 200 * time.Millisecond
	}
	if c.Enrichment.Timeout == 0 {
		c.Enrichment.Timeout = 10 * time.Second
	}

	if c.Resolver.FetchTimeout == 0 {
		c.Resolver.FetchTimeout = 20 * time.Second
	}
	if c.Resolver.RefreshTimeout == 0 {
		c.Resolver.RefreshTimeout = 60 * time.Second
	}
	if c.Resolver.MaxConcurrentRefreshes == 0 {
		c.Resolver.MaxConcurrentRefreshes = 8
	}
	if c.Resolver.BundleMemoTTL == 0 {
		c.Resolver.BundleMemoTTL = 30 * time.Second
	}
	if c.Resolver.Periods == nil {
		c.Resolver.Periods = make(map[string]PeriodPolicy)
	}
	for period, ttl := range map[string]time.Duration{"hour": hourPeriodTTL, "24h": dayPeriodTTL} {
		p := c.Resolver.Periods[period]
		if p.TTL == 0 {
			p.TTL = ttl
		}
		if p.StaleAfter == 0 {
			p.StaleAfter = defaultStaleAfter
		}
		c.Resolver.Periods[period] = p
	}

	if c.Warmer.Interval == 0 {
		c.Warmer.Interval = 10 * time.Minute
	}
	if c.Warmer.Concurrency == 0 {
		c.Warmer.Concurrency = 2
	}
	if len(c.Warmer.Periods) == 0 {
		c.Warmer.Periods = []string{"24h", "hour"}
	}

	if c.Server.APIPort == 0 {
		c.Server.APIPort = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9080
	}

	if c.Gateway.Listen == "" {
		c.Gateway.Listen = ":8000"
	}
	if c.Gateway.MetricsListen == "" {
		c.Gateway.MetricsListen = ":9081"
	}
	if c.Gateway.Window == 0 {
		c.Gateway.Window = time.Minute
	}
	if c.Gateway.Limits.API == 0 {
		c.Gateway.Limits.API = 120
	}
	if c.Gateway.Limits.Page == 0 {
		c.Gateway.Limits.Page = 60
	}
	if c.Gateway.Limits.Admin == 0 {
		c.Gateway.Limits.Admin = 20
	}
	if c.Gateway.Counter == "" {
		c.Gateway.Counter = "memory"
	}
	if c.Gateway.CounterCapacity == 0 {
		c.Gateway.CounterCapacity = 100_000
	}
	if len(c.Gateway.APIPrefixes) == 0 {
		c.Gateway.APIPrefixes = []string{"/api/"}
	}
	if len(c.Gateway.AdminPrefixes) == 0 {
		c.Gateway.AdminPrefixes = []string{"/api/ng", "/api/refresh", "/admin"}
	}
	if len(c.Gateway.StaticPrefixes) == 0 {
		c.Gateway.StaticPrefixes = []string{"/static/", "/assets/", "/favicon.ico", "/robots.txt"}
	}

	if c.Logging.Mode == "" {
		c.Logging.Mode = "development"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "ranking-cache-service"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 0.3
	}
}

///////////////////////////////////////////////////////////
/// Validation
///////////////////////////////////////////////////////////

func (c *AppConfigIntermediary) Validate() error {
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateTiers(); err != nil {
		return err
	}
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	if err := c.validateResolver(); err != nil {
		return err
	}
	if err := c.validateWarmer(); err != nil {
		return err
	}
	if err := c.validateGateway(); err != nil {
		return err
	}
	return nil
}

func (c *AppConfigIntermediary) validateProviders() error {
	providerNames := make(map[string]bool)
	for i, p := range c.Providers {
		if p.GetType() == ProviderTypeUnknown {
			return fmt.Errorf("provider[%d]: unknown type '%s'", i, p.GetType())
		}
		if p.GetName() == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if providerNames[p.GetName()] {
			return fmt.Errorf("provider[%d]: duplicate name '%s'", i, p.GetName())
		}
		providerNames[p.GetName()] = true

		// -------- специфичные проверки -------------------------------------
		switch v := p.(type) {
		case *Ristretto:
			if err := validateRistretto(i, v); err != nil {
				return err
			}
		case *Redis:
			if err := validateRedis(i, v); err != nil {
				return err
			}
		case *RocksDB:
			if err := validateRocksDB(i, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("provider[%d] (%s): validation not implemented for type %T",
				i, p.GetName(), p)
		}
	}
	return nil
}

func validateRistretto(idx int, r *Ristretto) error {
	if r.NumCounters <= 0 {
		return fmt.Errorf("provider[%d] (%s): numCounters must be > 0", idx, r.Name)
	}
	if r.BufferItems <= 0 {
		return fmt.Errorf("provider[%d] (%s): bufferItems must be > 0", idx, r.Name)
	}
	if bytes, err := ParseByteSize(r.MaxCost); err != nil || bytes == 0 {
		return fmt.Errorf("provider[%d] (%s): invalid maxCost '%s'", idx, r.Name, r.MaxCost)
	}
	if r.DefaultTTL < 0 {
		return fmt.Errorf("provider[%d] (%s): defaultTTL must be >= 0", idx, r.Name)
	}
	return nil
}

func validateRedis(idx int, r *Redis) error {
	if r.Host == "" {
		return fmt.Errorf("provider[%d] (%s): host is required", idx, r.Name)
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("provider[%d] (%s): port must be 1..65535", idx, r.Name)
	}
	if r.PoolSize <= 0 {
		return fmt.Errorf("provider[%d] (%s): poolSize must be > 0", idx, r.Name)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("provider[%d] (%s): timeout must be > 0", idx, r.Name)
	}
	return nil
}

func validateRocksDB(idx int, r *RocksDB) error {
	if r.Path == "" {
		return fmt.Errorf("provider[%d] (%s): path is required", idx, r.Name)
	}
	if r.MaxOpenFiles <= 0 {
		return fmt.Errorf("provider[%d] (%s): maxOpenFiles must be > 0", idx, r.Name)
	}

	// без createIfMissing каталог обязан существовать
	if !r.CreateIfMissing {
		info, err := os.Stat(r.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("provider[%d] (%s): path '%s' does not exist and createIfMissing=false", idx, r.Name, r.Path)
			}
			return fmt.Errorf("provider[%d] (%s): unable to access path '%s': %v", idx, r.Name, r.Path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("provider[%d] (%s): path '%s' exists but is not a directory", idx, r.Name, r.Path)
		}
	}

	sizes := []struct {
		value string
		parse func() (uint64, error)
	}{
		{r.BlockSize, r.BlockSizeBytes},
		{r.BlockCache, r.BlockCacheBytes},
		{r.WriteBufferSize, r.WriteBufferSizeBytes},
	}
	for _, s := range sizes {
		if s.value == "" {
			continue
		}
		if _, err := s.parse(); err != nil {
			return fmt.Errorf("provider[%d] (%s): %v", idx, r.Name, err)
		}
	}
	return nil
}

func (c *AppConfigIntermediary) validateTiers() error {
	roles := []struct {
		role     string
		name     string
		required bool
		allowed  []ProviderType
	}{
		{"edge", c.Tiers.Edge, false, []ProviderType{ProviderTypeRedis}},
		{"memo", c.Tiers.Memo, false, []ProviderType{ProviderTypeRistretto}},
		{"regional", c.Tiers.Regional, true, []ProviderType{ProviderTypeRedis, ProviderTypeRocksDb}},
		{"ng", c.Tiers.NG, true, []ProviderType{ProviderTypeRedis, ProviderTypeRocksDb}},
	}

	for _, r := range roles {
		if r.name == "" {
			if r.required {
				return fmt.Errorf("tiers.%s: provider name is required", r.role)
			}
			continue
		}
		p, ok := c.Providers.ByName(r.name)
		if !ok {
			return fmt.Errorf("tiers.%s: no matching provider found for name '%s'", r.role, r.name)
		}
		if !containsType(r.allowed, p.GetType()) {
			return fmt.Errorf("tiers.%s: provider '%s' has type '%s', allowed %v", r.role, r.name, p.GetType(), r.allowed)
		}
	}
	if strings.Contains(c.Tiers.Prefix, ":") {
		return fmt.Errorf("tiers.prefix: must not contain ':'")
	}
	return nil
}

func containsType(types []ProviderType, t ProviderType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func (c *AppConfigIntermediary) validateUpstream() error {
	if err := validateHTTPURL("upstream.baseURL", c.Upstream.BaseURL); err != nil {
		return err
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0")
	}
	if c.Upstream.MaxPages <= 0 {
		return fmt.Errorf("upstream.maxPages must be > 0")
	}
	if c.Upstream.TagItemCap <= 0 {
		return fmt.Errorf("upstream.tagItemCap must be > 0")
	}
	if s := c.Upstream.Access.Strategy; s != "crawler" && s != "direct" {
		return fmt.Errorf("upstream.access.strategy: unknown strategy '%s'", s)
	}
	return nil
}

func (c *AppConfigIntermediary) validateEnrichment() error {
	if !c.Enrichment.Enabled {
		return nil
	}
	if err := validateHTTPURL("enrichment.url", c.Enrichment.URL); err != nil {
		return err
	}
	if c.Enrichment.BatchSize <= 0 || c.Enrichment.BatchSize > maxEnrichmentBatch {
		return fmt.Errorf("enrichment.batchSize must be 1..%d", maxEnrichmentBatch)
	}
	if c.Enrichment.Interval < 0 {
		return fmt.Errorf("enrichment.interval must be >= 0")
	}
	if c.Enrichment.Timeout <= 0 {
		return fmt.Errorf("enrichment.timeout must be > 0")
	}
	return nil
}

func (c *AppConfigIntermediary) validateResolver() error {
	if c.Resolver.FetchTimeout <= 0 {
		return fmt.Errorf("resolver.fetchTimeout must be > 0")
	}
	if c.Resolver.RefreshTimeout <= 0 {
		return fmt.Errorf("resolver.refreshTimeout must be > 0")
	}
	if c.Resolver.MaxConcurrentRefreshes <= 0 {
		return fmt.Errorf("resolver.maxConcurrentRefreshes must be > 0")
	}
	for period, p := range c.Resolver.Periods {
		if p.TTL < 0 {
			return fmt.Errorf("resolver.periods.%s: ttl must be >= 0", period)
		}
		if p.StaleAfter <= 0 {
			return fmt.Errorf("resolver.periods.%s: staleAfter must be > 0", period)
		}
	}
	return nil
}

func (c *AppConfigIntermediary) validateWarmer() error {
	if !c.Warmer.Enabled {
		return nil
	}
	if c.Warmer.Interval <= 0 {
		return fmt.Errorf("warmer.interval must be > 0")
	}
	if c.Warmer.Concurrency <= 0 {
		return fmt.Errorf("warmer.concurrency must be > 0")
	}
	if len(c.Warmer.Genres) == 0 && len(c.Warmer.Tags) == 0 {
		return fmt.Errorf("warmer: at least one genre or tag is required")
	}
	for i, p := range c.Warmer.Periods {
		if p != "24h" && p != "hour" {
			return fmt.Errorf("warmer.periods[%d]: invalid period '%s'", i, p)
		}
	}
	for i, t := range c.Warmer.Tags {
		if t.Genre == "" || t.Tag == "" {
			return fmt.Errorf("warmer.tags[%d]: genre and tag are required", i)
		}
	}
	return nil
}

func (c *AppConfigIntermediary) validateGateway() error {
	g := c.Gateway
	if g.Target == "" {
		return nil
	}
	if err := validateHTTPURL("gateway.target", g.Target); err != nil {
		return err
	}
	if g.Window <= 0 {
		return fmt.Errorf("gateway.window must be > 0")
	}
	if g.Limits.API <= 0 || g.Limits.Page <= 0 || g.Limits.Admin <= 0 {
		return fmt.Errorf("gateway.limits: api, page and admin must be > 0")
	}
	if g.Counter != "memory" {
		p, ok := c.Providers.ByName(g.Counter)
		if !ok {
			return fmt.Errorf("gateway.counter: no matching provider found for name '%s'", g.Counter)
		}
		if p.GetType() != ProviderTypeRedis {
			return fmt.Errorf("gateway.counter: provider '%s' must be redis", g.Counter)
		}
	}
	for _, t := range g.AdminTokens {
		if t == "" {
			return fmt.Errorf("gateway.adminTokens: empty token")
		}
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %v", field, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme '%s' in %s", u.Scheme, field)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %s '%s'", field, raw)
	}
	return nil
}

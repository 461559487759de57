package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

///////////////////////////////////////////////////////////
/// Providers structs
///////////////////////////////////////////////////////////

type ProviderType string

const (
	ProviderTypeRistretto ProviderType = "ristretto"
	ProviderTypeRedis     ProviderType = "redis"
	ProviderTypeRocksDb   ProviderType = "rocksdb"
	ProviderTypeUnknown   ProviderType = "unknown"
)

type ProviderMeta struct {
	Name string       `yaml:"name"`
	Type ProviderType `yaml:"type"`
}

func (m ProviderMeta) GetName() string       { return m.Name }
func (m ProviderMeta) GetType() ProviderType { return m.Type }

type Provider interface {
	GetName() string
	GetType() ProviderType
}

// Ristretto — in-process кэш, используется как memo для распакованного бандла.
type Ristretto struct {
	ProviderMeta `yaml:",inline"`

	NumCounters int64         `yaml:"numCounters"`
	BufferItems int64         `yaml:"bufferItems"`
	MaxCost     string        `yaml:"maxCost"`
	DefaultTTL  time.Duration `yaml:"defaultTTL"`
}

func (r *Ristretto) MaxCostBytes() (uint64, error) {
	return ParseBytesStr(r.MaxCost, r.Name+" -> maxCost")
}

type Redis struct {
	ProviderMeta `yaml:",inline"`

	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (r *Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RocksDB — локальное долговременное хранилище (NG-список переживает рестарт без Redis).
type RocksDB struct {
	ProviderMeta `yaml:",inline"`

	Path            string `yaml:"path"`
	CreateIfMissing bool   `yaml:"createIfMissing"`
	MaxOpenFiles    int    `yaml:"maxOpenFiles"`
	BlockSize       string `yaml:"blockSize"`
	BlockCache      string `yaml:"blockCache"`
	WriteBufferSize string `yaml:"writeBufferSize"`
}

func (r *RocksDB) BlockSizeBytes() (uint64, error) {
	return ParseBytesStr(r.BlockSize, r.Name+" -> blockSize")
}

func (r *RocksDB) BlockCacheBytes() (uint64, error) {
	return ParseBytesStr(r.BlockCache, r.Name+" -> blockCache")
}

func (r *RocksDB) WriteBufferSizeBytes() (uint64, error) {
	return ParseBytesStr(r.WriteBufferSize, r.Name+" -> writeBufferSize")
}

type Unknown struct {
	ProviderMeta `yaml:",inline"`
}

func (pt *ProviderType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	switch s {
	case string(ProviderTypeRistretto), string(ProviderTypeRedis), string(ProviderTypeRocksDb):
		*pt = ProviderType(s)
		return nil
	default:
		return fmt.Errorf("unknown provider type: %q", s)
	}
}

type Providers []Provider

// UnmarshalYAML decodes the common meta first and then the concrete type it names.
func (p *Providers) UnmarshalYAML(value *yaml.Node) error {
	var raw []yaml.Node
	if err := value.Decode(&raw); err != nil {
		return err
	}

	for _, n := range raw {
		var meta ProviderMeta
		if err := n.Decode(&meta); err != nil {
			return err
		}

		var prov Provider
		switch meta.Type {
		case ProviderTypeRistretto:
			prov = &Ristretto{}
		case ProviderTypeRedis:
			prov = &Redis{}
		case ProviderTypeRocksDb:
			prov = &RocksDB{}
		default:
			prov = &Unknown{}
		}

		if err := n.Decode(prov); err != nil {
			return err
		}
		*p = append(*p, prov)
	}
	return nil
}

// ByName returns the provider registered under name.
func (p Providers) ByName(name string) (Provider, bool) {
	for _, prov := range p {
		if prov.GetName() == name {
			return prov, true
		}
	}
	return nil, false
}

///////////////////////////////////////////////////////////
/// UTILS
///////////////////////////////////////////////////////////

func ParseByteSize(s string) (uint64, error) {
	return humanize.ParseBytes(strings.TrimSpace(s))
}

func ParseBytesStr(bytesString string, errorPath string) (uint64, error) {
	bytes, err := ParseByteSize(bytesString)
	if err != nil {
		return 0, fmt.Errorf("invalid config -> %v: %v has wrong value (%v)", errorPath, bytesString, err)
	}
	return bytes, nil
}

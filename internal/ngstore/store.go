// Package ngstore хранит NG-список оператора одним JSON-документом в любом
// провайдере (redis или rocksdb). Записи без TTL.
package ngstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/cache/providers"
	"ranking-cache-service/internal/ngfilter"
)

type Store struct {
	provider providers.CacheProvider
	key      string
	mu       sync.Mutex
}

func New(provider providers.CacheProvider, mapper *dto.KeyMapper) *Store {
	return &Store{provider: provider, key: mapper.NGKey()}
}

// Get returns the stored list; a missing document is an empty list.
func (s *Store) Get(ctx context.Context) (*dto.NGList, error) {
	values, err := s.provider.BatchGet(ctx, []string{s.key})
	if err != nil {
		return nil, fmt.Errorf("load ng list: %w", err)
	}
	raw, ok := values[s.key]
	if !ok {
		return ngfilter.Clone(nil), nil
	}
	var list dto.NGList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode ng list: %w", err)
	}
	return ngfilter.Clone(&list), nil
}

// Replace sets the manual rules to rules; derived ids are kept.
func (s *Store) Replace(ctx context.Context, rules dto.NGRules) (*dto.NGList, error) {
	return s.update(ctx, func(l *dto.NGList) *dto.NGList { return ngfilter.ReplaceRules(l, rules) })
}

func (s *Store) AddRules(ctx context.Context, rules dto.NGRules) (*dto.NGList, error) {
	return s.update(ctx, func(l *dto.NGList) *dto.NGList { return ngfilter.AddRules(l, rules) })
}

func (s *Store) RemoveRules(ctx context.Context, rules dto.NGRules) (*dto.NGList, error) {
	return s.update(ctx, func(l *dto.NGList) *dto.NGList { return ngfilter.RemoveRules(l, rules) })
}

// AppendDerived adds ids to the derived set.
func (s *Store) AppendDerived(ctx context.Context, ids []string) (*dto.NGList, error) {
	if len(ids) == 0 {
		return s.Get(ctx)
	}
	return s.update(ctx, func(l *dto.NGList) *dto.NGList { return ngfilter.WithDerived(l, ids) })
}

// ClearDerived empties the derived set; manual rules stay.
func (s *Store) ClearDerived(ctx context.Context) (*dto.NGList, error) {
	return s.update(ctx, ngfilter.ClearDerived)
}

// update is a read-modify-write under the store mutex. Concurrent writers in
// other processes may interleave; the last write wins.
func (s *Store) update(ctx context.Context, fn func(*dto.NGList) *dto.NGList) (*dto.NGList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := fn(current)

	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode ng list: %w", err)
	}
	if err := s.provider.BatchPut(ctx, map[string]string{s.key: string(raw)}, nil); err != nil {
		return nil, fmt.Errorf("store ng list: %w", err)
	}

	zap.S().Infow("NG-список обновлён",
		"videoIds", len(next.VideoIDs), "authorIds", len(next.AuthorIDs), "derived", len(next.DerivedVideoIDs))
	return next, nil
}

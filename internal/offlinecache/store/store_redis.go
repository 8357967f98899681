package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"relief/internal/offlinecache/models"
	"relief/pkg/platform/sentinel"
)

const (
	keyPrefix = "relief:offline-cache:"
	// namesKey is a set of cache names that hold at least one entry.
	namesKey = keyPrefix + "names"
)

// Redis shares one response cache between the devices behind a field-office gateway.
// Each entry is a hash; each cache keeps a set of its entry keys so Drop can find them.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func entryKey(cache, url string) string {
	return keyPrefix + cache + ":entry:" + url
}

func indexKey(cache string) string {
	return keyPrefix + cache + ":index"
}

func (s *Redis) Get(ctx context.Context, cache, url string) (*models.CachedResponse, error) {
	fields, err := s.client.HGetAll(ctx, entryKey(cache, url)).Result()
	if err != nil {
		return nil, fmt.Errorf("get cached %s %s: %w", cache, url, err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}

	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return nil, fmt.Errorf("parse status of %s: %w", url, err)
	}
	storedAt, err := time.Parse(time.RFC3339Nano, fields["stored_at"])
	if err != nil {
		return nil, fmt.Errorf("parse stored_at of %s: %w", url, err)
	}
	return &models.CachedResponse{
		Cache:       cache,
		URL:         url,
		Status:      status,
		ContentType: fields["content_type"],
		Kind:        models.Kind(fields["kind"]),
		Body:        []byte(fields["body"]),
		StoredAt:    storedAt,
	}, nil
}

func (s *Redis) Put(ctx context.Context, resp models.CachedResponse) error {
	key := entryKey(resp.Cache, resp.URL)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"status", resp.Status,
			"content_type", resp.ContentType,
			"kind", string(resp.Kind),
			"body", resp.Body,
			"stored_at", resp.StoredAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.SAdd(ctx, indexKey(resp.Cache), key)
		pipe.SAdd(ctx, namesKey, resp.Cache)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put cached %s %s: %w", resp.Cache, resp.URL, err)
	}
	return nil
}

func (s *Redis) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, namesKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Redis) Drop(ctx context.Context, cache string) error {
	keys, err := s.client.SMembers(ctx, indexKey(cache)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("drop cache %s: %w", cache, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, indexKey(cache))
		pipe.SRem(ctx, namesKey, cache)
		return nil
	})
	if err != nil {
		return fmt.Errorf("drop cache %s: %w", cache, err)
	}
	return nil
}

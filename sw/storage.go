// sw/storage.go
package sw

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedResponse is a fully buffered response. It can be replayed any
// number of times.
type CachedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

func (c *CachedResponse) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.StatusCode, http.StatusText(c.StatusCode)),
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        c.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// Cache is one named response cache.
type Cache interface {
	Match(key string) (*CachedResponse, bool)
	Put(key string, resp *CachedResponse)
	Delete(key string)
	Len() int
}

// Storage holds named caches.
type Storage interface {
	// Open returns the named cache, creating it when missing.
	Open(name string) Cache
	Keys() []string
	Delete(name string) bool
}

// MemoryStorage keeps every cache in process memory. Each cache evicts its
// least recently used entry once it holds the configured number of entries.
type MemoryStorage struct {
	mu     sync.Mutex
	size   int
	caches map[string]*lruCache
}

func NewMemoryStorage(entries int) *MemoryStorage {
	if entries <= 0 {
		entries = 256
	}
	return &MemoryStorage{size: entries, caches: make(map[string]*lruCache)}
}

func (s *MemoryStorage) Open(name string) Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c
	}
	// lru.New only fails for a non-positive size.
	l, _ := lru.New[string, *CachedResponse](s.size)
	c := &lruCache{lru: l}
	s.caches[name] = c
	return c
}

func (s *MemoryStorage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.caches))
	for k := range s.caches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStorage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false
	}
	delete(s.caches, name)
	return true
}

type lruCache struct {
	lru *lru.Cache[string, *CachedResponse]
}

func (c *lruCache) Match(key string) (*CachedResponse, bool) {
	return c.lru.Get(key)
}

func (c *lruCache) Put(key string, resp *CachedResponse) {
	c.lru.Add(key, resp)
}

func (c *lruCache) Delete(key string) {
	c.lru.Remove(key)
}

func (c *lruCache) Len() int {
	return c.lru.Len()
}

/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Claimer records that an operation key has started. Claim returns true only
// for the first caller presenting a key until the key expires or is released.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// ConvertKey is the claim key used for deposit conversions
func ConvertKey(depositId string) string {
	return "convert:" + depositId
}

type claim struct {
	key       string
	claimedAt time.Time
}

// Guard is an in-process Claimer. Keys live for ttl (zero keeps them for the
// process lifetime); when maxKeys is reached the oldest claim is evicted.
type Guard struct {
	mutex   sync.Mutex
	claims  map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
}

// NewGuard creates an in-memory guard
func NewGuard(ttl time.Duration, maxKeys int) *Guard {
	return &Guard{
		claims:  make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

// TryClaim returns true the first time key is presented and false afterwards.
func (g *Guard) TryClaim(key string) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	if elem, ok := g.claims[key]; ok {
		if !g.expired(elem.Value.(*claim), now) {
			return false
		}
		g.remove(elem)
	}

	g.evictLocked(now)

	g.claims[key] = g.order.PushBack(&claim{key: key, claimedAt: now})
	return true
}

// Claim implements Claimer. The in-memory guard never fails.
func (g *Guard) Claim(_ context.Context, key string) (bool, error) {
	return g.TryClaim(key), nil
}

// Release forgets key so it can be claimed again
func (g *Guard) Release(_ context.Context, key string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if elem, ok := g.claims[key]; ok {
		g.remove(elem)
	}
	return nil
}

// IsClaimed reports whether key currently holds a live claim
func (g *Guard) IsClaimed(key string) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	elem, ok := g.claims[key]
	return ok && !g.expired(elem.Value.(*claim), g.now())
}

// Len returns the number of tracked claims, including expired ones not yet swept
func (g *Guard) Len() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.order.Len()
}

// StartCleanup sweeps expired claims every interval until ctx is done
func (g *Guard) StartCleanup(ctx context.Context, interval time.Duration) {
	if g.ttl <= 0 || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				g.cleanupExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (g *Guard) cleanupExpired() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	removed := 0
	for elem := g.order.Front(); elem != nil; {
		next := elem.Next()
		if !g.expired(elem.Value.(*claim), now) {
			break
		}
		g.remove(elem)
		removed++
		elem = next
	}

	if removed > 0 {
		zap.L().Debug("Cleaned up expired idempotency claims",
			zap.Int("removed", removed),
			zap.Int("remaining", g.order.Len()))
	}
}

// evictLocked drops expired claims from the front, then the oldest live ones
// until there is room for one more key.
func (g *Guard) evictLocked(now time.Time) {
	for elem := g.order.Front(); elem != nil && g.expired(elem.Value.(*claim), now); elem = g.order.Front() {
		g.remove(elem)
	}

	if g.maxKeys <= 0 {
		return
	}
	for g.order.Len() >= g.maxKeys {
		oldest := g.order.Front()
		zap.L().Warn("Idempotency guard full, evicting oldest claim",
			zap.String("key", oldest.Value.(*claim).key),
			zap.Int("max_keys", g.maxKeys))
		g.remove(oldest)
	}
}

func (g *Guard) expired(c *claim, now time.Time) bool {
	return g.ttl > 0 && now.Sub(c.claimedAt) >= g.ttl
}

func (g *Guard) remove(elem *list.Element) {
	delete(g.claims, elem.Value.(*claim).key)
	g.order.Remove(elem)
}

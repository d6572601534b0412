/*
Copyright The Verda Cloud Provider Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package atomic

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// CachedVariable stores a value for a fixed lifetime measured against an injectable clock.
// A zero lastSet means the variable has never been populated.
type CachedVariable[T any] struct {
	mu       sync.Mutex
	clk      clock.PassiveClock
	lifetime time.Duration
	lastSet  time.Time
	value    T
}

func NewCachedVariable[T any](clk clock.PassiveClock, lifetime time.Duration) *CachedVariable[T] {
	return &CachedVariable[T]{
		clk:      clk,
		lifetime: lifetime,
	}
}

// Get returns the last stored value and whether it is still within its lifetime. The value is
// returned even when expired so callers can fall back to it.
func (c *CachedVariable[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSet.IsZero() || c.clk.Since(c.lastSet) > c.lifetime {
		return c.value, false
	}
	return c.value, true
}

func (c *CachedVariable[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSet = c.clk.Now()
	c.value = v
}

// Expire keeps the value but marks it stale so the next Get reports it as expired.
func (c *CachedVariable[T]) Expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSet = time.Time{}
}

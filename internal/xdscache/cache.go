// Copyright Project Flowplane Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package xdscache holds the compiled resources served over the discovery
// stream. The cache is the handoff point between the refresh pipeline
// (writer) and the stream handlers (readers).
package xdscache

import (
	"bytes"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/anypb"
)

// Cache stores compiled resources keyed by type URL then resource name.
//
// The version counter advances only when an Apply actually changes the
// stored bytes for a type. Re-applying an identical set is a no-op, so
// connected clients are never woken for spurious updates.
type Cache struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	version int64
	byType  map[string]map[string]*anypb.Any
	waiters []chan int64
}

func NewCache(log logrus.FieldLogger) *Cache {
	return &Cache{
		log:     log,
		version: 1,
		byType:  map[string]map[string]*anypb.Any{},
	}
}

// Apply replaces the full resource set for the given type URL. It returns
// true, and bumps the cache version, only if the set differs from what is
// already stored.
func (c *Cache) Apply(typeURL string, resources map[string]*anypb.Any) bool {
	c.mu.Lock()

	if resourceSetsEqual(c.byType[typeURL], resources) {
		c.mu.Unlock()
		return false
	}

	stored := make(map[string]*anypb.Any, len(resources))
	for name, res := range resources {
		stored[name] = res
	}
	c.byType[typeURL] = stored
	c.version++
	version := c.version

	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"type_url":  typeURL,
		"version":   version,
		"resources": len(resources),
	}).Debug("cache updated")

	for _, ch := range waiters {
		ch <- version
	}
	return true
}

// Version returns the current cache version.
func (c *Cache) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// VersionInfo returns the current version in the decimal string form the
// discovery protocol carries.
func (c *Cache) VersionInfo() string {
	return strconv.FormatInt(c.Version(), 10)
}

// Contents returns every resource of the given type, ordered by name.
func (c *Cache) Contents(typeURL string) []*anypb.Any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedValues(c.byType[typeURL])
}

// Names returns the resource names of the given type, sorted.
func (c *Cache) Names(typeURL string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.byType[typeURL]))
	for name := range c.byType[typeURL] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Query returns the named resources of the given type, ordered by name.
// Names with no stored resource are skipped: the client learns of their
// absence by omission, per the protocol.
func (c *Cache) Query(typeURL string, names []string) []*anypb.Any {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := c.byType[typeURL]
	picked := make(map[string]*anypb.Any, len(names))
	for _, name := range names {
		if res, ok := stored[name]; ok {
			picked[name] = res
		}
	}
	return sortedValues(picked)
}

// Register arranges for ch to receive the cache version the next time it
// passes last. If the cache is already past last, ch is notified
// immediately. Each registration fires at most once.
func (c *Cache) Register(ch chan int64, last int64) {
	c.mu.Lock()
	if c.version > last {
		version := c.version
		c.mu.Unlock()
		ch <- version
		return
	}
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
}

func sortedValues(resources map[string]*anypb.Any) []*anypb.Any {
	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]*anypb.Any, 0, len(names))
	for _, name := range names {
		values = append(values, resources[name])
	}
	return values
}

func resourceSetsEqual(a, b map[string]*anypb.Any) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ra := range a {
		rb, ok := b[name]
		if !ok {
			return false
		}
		if ra.TypeUrl != rb.TypeUrl || !bytes.Equal(ra.Value, rb.Value) {
			return false
		}
	}
	return true
}

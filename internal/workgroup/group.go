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

// Package workgroup provides a mechanism for controlling the lifetime of
// a group of related goroutines (workers).
package workgroup

import (
	"context"
	"sync"
)

// Group manages a set of goroutines with related lifetimes.
type Group struct {
	fn []func(context.Context) error
}

// Add adds a function to the Group. The function will be executed in its
// own goroutine when Run is called. Add must be called before Run.
func (g *Group) Add(fn func(context.Context) error) {
	g.fn = append(g.fn, fn)
}

// Run executes each function registered with Add in its own goroutine.
// Run blocks until all functions have returned. The first function to
// return cancels the context passed to the others, who should in turn
// return. Run returns the first function's error.
func (g *Group) Run(ctx context.Context) error {
	if len(g.fn) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(g.fn))

	result := make(chan error, len(g.fn))
	for _, fn := range g.fn {
		go func(fn func(context.Context) error) {
			defer wg.Done()
			result <- fn(ctx)
		}(fn)
	}

	err := <-result // wait for the first worker to exit
	cancel()        // ask the others to exit
	wg.Wait()       // wait for them
	return err
}

// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"context"
	"errors"
)

// Runs fn for each index in [0,n) with at most maxThreads concurrent goroutines.
// Stops scheduling new work once ctx is done, and returns ctx.Err() in that case.
// Otherwise returns the errors of all failed invocations, joined in index order.
func ForEach(ctx context.Context, n, maxThreads int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	limiter := make(chan bool, maxThreads)
	errs := make([]error, n)
	scheduled := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		limiter <- true
		scheduled++
		go func(i int) {
			defer func() { <-limiter }()
			errs[i] = fn(i)
		}(i)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(errs[:scheduled]...)
}

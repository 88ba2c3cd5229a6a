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

// Package ops provides the execution context shared by all processing steps,
// a bounded worker pool, and serializable per-frame operators.
package ops

import (
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// An execution context for operators
type Context struct {
	Log        io.Writer      // log output, one line per event, prefixed with the frame ID
	MemoryMB   int            // memory.TotalMemory()/1024/1024
	MaxThreads int            `json:"maxThreads"`
	Warnings   chan<- Warning // optional. Receives recoverable conditions without blocking
}

// Creates a context logging to the given writer, with the thread budget capped at the number of physical cores
func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	threads := runtime.GOMAXPROCS(0)
	if cores := cpuid.CPU.PhysicalCores; cores > 0 && cores < threads {
		threads = cores
	}
	return &Context{
		Log:        log,
		MemoryMB:   memoryMB,
		MaxThreads: threads,
	}
}

// Returns a description of the CPU and memory budget
func (c *Context) Describe() string {
	return fmt.Sprintf("%s with %d physical cores, %d threads, %d MiB memory",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, c.MaxThreads, c.MemoryMB)
}

// Kinds of recoverable conditions reported during processing
type WarningKind string

const (
	WarnNotConverged WarningKind = "not converged"
	WarnHighJump     WarningKind = "high jump"
	WarnNoROIs       WarningKind = "no ROIs"
	WarnLowRange     WarningKind = "low dynamic range"
)

// A recoverable condition. Row and Col identify the tile, or are -1 for whole frames.
type Warning struct {
	FrameID int         `json:"frame"`
	Kind    WarningKind `json:"kind"`
	Row     int         `json:"row"`
	Col     int         `json:"col"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Row < 0 {
		return fmt.Sprintf("%d: WARNING %s: %s", w.FrameID, w.Kind, w.Message)
	}
	return fmt.Sprintf("%d: WARNING %s at tile (%d,%d): %s", w.FrameID, w.Kind, w.Row, w.Col, w.Message)
}

// Logs a warning and forwards it to the warnings channel, if any. Never blocks.
func (c *Context) Warn(w Warning) {
	if c.Log != nil {
		fmt.Fprintln(c.Log, w.String())
	}
	if c.Warnings != nil {
		select {
		case c.Warnings <- w:
		default:
		}
	}
}

// Writes a formatted log line, if a log writer is set
func (c *Context) Logf(format string, args ...interface{}) {
	if c.Log != nil {
		fmt.Fprintf(c.Log, format, args...)
	}
}

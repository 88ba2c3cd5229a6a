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

// Package rest exposes the caltrace passes as an HTTP API. Job endpoints stream
// their text log as the response body.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/mlnoga/caltrace/internal/config"
	"github.com/mlnoga/caltrace/internal/ops"
	"github.com/mlnoga/caltrace/internal/pipeline"
	"github.com/mlnoga/caltrace/internal/synth"
)

// Creates the API router
func NewRouter() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/register", postRegister)
			v1.POST("/run", postRun)
			v1.POST("/synth", postSynth)
		}
	}
	return r
}

// Serves the API on the given address, e.g. ":8080"
func Serve(addr string) error {
	return NewRouter().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Flushes the response after every write, so clients see log lines as they happen
type flushWriter struct {
	w gin.ResponseWriter
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.w.Flush()
	return n, err
}

// Starts a streamed plain text response and logs the arguments
func startLog(c *gin.Context, args interface{}) (io.Writer, error) {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)
	logWriter := flushWriter{c.Writer}
	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return nil, err
	}
	return logWriter, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func checkPaths(paths ...string) error {
	for _, p := range paths {
		if p == "" || !ops.IsPathAllowed(p) {
			return fmt.Errorf("path '%s' not allowed, must be relative and inside the working directory", p)
		}
	}
	return nil
}

type postJobArgs struct {
	FilePattern string         `json:"filePattern"` // glob or %d pattern of input TIFF frames
	OutPrefix   string         `json:"outPrefix"`   // prefix of all output files
	Config      *config.Config `json:"config"`
}

// Binds and checks job arguments, starting from the default configuration
func bindJob(c *gin.Context) (*postJobArgs, bool) {
	args := postJobArgs{Config: config.Default()}
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return nil, false
	}
	if args.Config == nil {
		args.Config = config.Default()
	}
	if err := checkPaths(args.FilePattern, args.OutPrefix); err != nil {
		badRequest(c, err)
		return nil, false
	}
	if err := args.Config.Validate(); err != nil {
		badRequest(c, err)
		return nil, false
	}
	return &args, true
}

func postRegister(c *gin.Context) {
	runJob(c, false)
}

func postRun(c *gin.Context) {
	runJob(c, true)
}

func runJob(c *gin.Context, pickup bool) {
	args, ok := bindJob(c)
	if !ok {
		return
	}
	logWriter, err := startLog(c, args)
	if err != nil {
		return
	}
	src, err := pipeline.NewFrameSource(args.FilePattern)
	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		return
	}
	ctx := c.Request.Context()
	oc := ops.NewContext(logWriter)
	if args.Config.MaxThreads > 0 {
		oc.MaxThreads = args.Config.MaxThreads
	}
	out := pipeline.Outputs{Prefix: args.OutPrefix}
	if pickup {
		_, _, err = pipeline.Run(ctx, oc, args.Config, src, out)
	} else {
		_, err = pipeline.RegisterDetect(ctx, oc, args.Config, src, out)
	}
	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Done.\n")
}

type postSynthArgs struct {
	FilePattern string       `json:"filePattern"` // output file pattern with a %d verb
	Params      synth.Params `json:"params"`
}

func postSynth(c *gin.Context) {
	args := postSynthArgs{Params: synth.DefaultParams()}
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	if err := checkPaths(args.FilePattern); err != nil {
		badRequest(c, err)
		return
	}
	if err := args.Params.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	logWriter, err := startLog(c, args)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(args.FilePattern), 0755); err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		return
	}
	m, err := synth.Generate(args.Params)
	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		return
	}
	names, err := m.WriteTIFFs(args.FilePattern)
	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Wrote %d frames from %s to %s\n", len(names), names[0], names[len(names)-1])
	fmt.Fprintf(logWriter, "Done.\n")
}

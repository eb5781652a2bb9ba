// Package iqlog provides stage-tagged diagnostic logging over the standard
// library logger, matching the teacher's plain log.Printf convention.
package iqlog

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

// SetOutput redirects all iqlog output, primarily for tests.
func SetOutput(l *log.Logger) { std = l }

// Stager logs lines prefixed with a pipeline stage name.
type Stager struct {
	stage string
}

// For returns a Stager for the named stage (e.g. "cfar", "cluster").
func For(stage string) Stager {
	return Stager{stage: stage}
}

func (s Stager) Printf(format string, args ...any) {
	std.Printf("["+s.stage+"] "+format, args...)
}

func (s Stager) Println(args ...any) {
	all := append([]any{"[" + s.stage + "]"}, args...)
	std.Println(all...)
}

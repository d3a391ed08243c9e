// Package router turns chat messages into scheduler calls.
//
// It parses "/cmd args" lines, runs each command through a small middleware
// chain (panic recovery, request log, timeout) and answers through a Replier.
// Commands for one channel are handled in arrival order.
package router

//go:build debug

package core

import "fmt"

// Assert panics when cond is false. Built with -tags debug only.
func Assert(cond bool, msg string, args ...interface{}) bool {
	if !cond {
		LogError(msg, args...)
		panic(fmt.Sprintf(msg, args...))
	}
	return true
}

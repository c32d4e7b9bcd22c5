//go:build !debug

package core

// Assert logs msg as an error when cond is false and reports cond, so the
// caller can turn the violation into a no-op.
func Assert(cond bool, msg string, args ...interface{}) bool {
	if !cond {
		LogError(msg, args...)
	}
	return cond
}

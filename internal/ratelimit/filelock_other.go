//go:build !unix

package ratelimit

// lockFile is a no-op where flock is unavailable; FileStore then relies on
// its in-process mutex only.
func lockFile(string) (func(), error) {
	return func() {}, nil
}

//go:build !debug

// Package debug provides build-tag gated invariant assertions.
//
// Without the "debug" build tag every function is a no-op: invariant
// checking costs nothing in a production build. Parse/serialize/route
// errors never go through this package — only programmer invariants do
// (block-number uniqueness, contact non-overlap, single bundle ownership).
package debug

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func AssertFunc(_ func() bool, _ ...any) {}
func Func(_ func())                      {}
func ON() bool                           { return false }

// Package e007 holds the show notes for episode 7, "Testify": testing and
// benchmarking.
//
// In order, the episode looks at:
//
//   - why you need tests at all;
//   - unit tests in dynamically-typed languages vs. in a compiled, statically
//     typed one;
//   - how to write unit tests with the testing package;
//   - how and why to write integration tests (package foo_test, living next to
//     package foo but only seeing its exported API);
//   - how and why to write benchmarks.
//
// The interesting part of this episode is the test files, not the API: there
// is exactly one exported function, [Add], and everything else lives in
// e007_test.go and e007_bench_test.go. Those files are only compiled by
// go test, which is why go doc shows so little here. Read the source.
//
// Run the tests and benchmarks with:
//
//	go test ./e007
//	go test -run NONE -bench . -benchmem ./e007
//
// or with the shownotes tool in the repository root, which can also run the
// benchmarks on a dedicated EC2 instance so a noisy laptop does not skew the
// numbers:
//
//	shownotes bench ./e007
//	shownotes bench --remote --type c7g.large ./e007
//
// A few things worth calling out:
//
//   - A test is any func TestXxx(t *testing.T) in a _test.go file. There is no
//     attribute or registration step; the name is the marker.
//   - There is no built-in "this test should panic" marker. An expected
//     failure is written as an assertion that the call panics, optionally
//     with a specific value (see TestAddBadly and TestWillPanic).
//   - A benchmark is func BenchmarkXxx(b *testing.B). The framework picks b.N
//     so the loop runs long enough to produce a stable ns/op figure.
//   - Helpers used only by tests go in _test.go files and never end up in the
//     compiled package.
//
// Links:
//
//   - https://pkg.go.dev/testing
//   - https://go.dev/doc/tutorial/add-a-test
//   - https://pkg.go.dev/github.com/stretchr/testify/assert
package e007

// Package executor orchestrates sandboxed executions.
//
// An Executor resolves the requested language, provisions a dedicated
// sandbox, runs the code under the resource guard, tears the sandbox down
// and normalizes the raw outcome into a Result. Requested visualizations are
// rendered last, whether the run succeeded or not.
//
// Usage:
//
//	result, err := exec.Execute(ctx, executor.Profile{
//	    Language:   "python",
//	    Code:       "print(1+1)",
//	    TimeoutSec: 5,
//	})
//	if errors.Is(err, registry.ErrUnsupportedLanguage) {
//	    // caller error, nothing was run
//	}
package executor

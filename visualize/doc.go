// Package visualize renders the optional views of a sandboxed run's output.
//
// An image view is the first image file the run wrote to its output
// directory, as a base64 data URI. A text view is stdout cleaned up for
// display: line endings normalized, terminal escapes removed, blank lines
// collapsed, JSON pretty-printed and the whole bounded in length.
package visualize

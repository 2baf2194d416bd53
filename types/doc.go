// Package types holds the error taxonomy and primitive value types shared
// across the orchestration core. It has no dependencies on the other
// scoutflow packages.
package types

// Package fsutil provides utilities for filesystem operations.
//
// Key functionality:
//   - Path operations: ExpandHomePath, ResolveWithin, JoinRooted, FindWorkspaceRoot
//   - File writing: WriteFileAtomic
//   - Tree walking: WalkYAML
package fsutil

// Package paths provides project path validation and identity snapshots.
//
// Sessions are bound to project directories supplied by the user, so every
// path is validated before use: absolute, traversal-free, symlink-resolved,
// and an existing directory. Because validation and use are separated by the
// resume pipeline, the package also captures an identity snapshot
// (inode/owner/group/mode) at validation time that callers re-compare
// immediately before handing the path to a worker, shrinking the
// check-to-use window to a single stat.
package paths

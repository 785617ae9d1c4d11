// Package files implements the "files" source adapter over a local
// directory tree.
//
// Endpoint is the root directory. TableFilter holds glob patterns matched
// against the slash-separated path relative to the root, or against the
// base name when a pattern has no slash; empty means every file. Hidden
// files and directories are skipped. Params:
//
//   - max_file_size: larger files are listed without content (default 1MiB).
//
// Each file is one record keyed by its relative path and ordered by
// (modification time, path). Deleted files are not reported.
//
// The adapter implements driven.Watcher: fsnotify events under the root
// are coalesced into sync requests.
package files

// Package diff compares two normalized manifest sets and produces a unified
// diff patch with one section per changed resource.
//
// Resources are matched by key. A resource present only in the pr set is
// reported as added, one present only in the live set as removed, and one
// whose canonical YAML differs as modified. Sections are ordered by kind,
// namespace, name and apiVersion so the patch is reproducible.
package diff

// Package apis provides the types shared by the build, normalize and diff stages.
//
//   - manifest: resource keys, rendered manifests and manifest sets
package apis

// Package client provides embedded library clients for the tools fluxdiff
// renders with:
//
//   - helm: offline Helm chart rendering and dependency builds
//   - kustomize: Kustomize overlay rendering
//   - netretry: retry policy for transient network failures
//   - oci: OCI artifact pulls for OCIRepository sources
//
// No client talks to a Kubernetes API server.
package client

// Package oci pulls OCIRepository artifacts with go-containerregistry and
// unpacks them into a local directory.
package oci

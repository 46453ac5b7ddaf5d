// Package notify writes short, symbol-prefixed status lines for humans.
//
// Status lines go to the error stream of a command so that the standard
// output stays reserved for patches and rendered manifests.
package notify

// Package protocol owns the wire contract of Numato USB GPIO expanders.
//
// Ownership boundary:
// - command line builders
// - per-variant word-length and capability table
// - hex mask codec
// - notification grammar
package protocol

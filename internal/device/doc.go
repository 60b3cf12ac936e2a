// Package device is the protocol engine: it owns one serial transport per
// session, serializes commands over the half-duplex stream, demultiplexes
// unsolicited edge notifications out of response traffic, and discovers
// devices across candidate paths.
package device

// Package dialer provides the transports a SOCKS client uses to reach its
// proxy.
//
// Dialers implement a small interface (DialContext) and can reach the proxy
// directly, through an HTTP CONNECT proxy, or over an SSH "direct-tcpip"
// channel. AsConnector adapts any of them to the connector contract the
// SOCKS session expects.
package dialer

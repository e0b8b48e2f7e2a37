// Package socks encodes and decodes the client side of the SOCKS4, SOCKS4a
// and SOCKS5 CONNECT handshakes.
//
// Everything here is pure: functions build request frames and validate reply
// frames held in memory. Reading and writing those frames is left to the
// caller, which makes it possible to read replies with exact lengths and never
// consume bytes that belong to the proxied stream.
//
// SOCKS5 request framing reuses the message types from
// github.com/txthinking/socks5; decoding is done here so that every failure
// maps onto one of the package's error kinds.
package socks

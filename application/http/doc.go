// Package http implements the HTTP/1.1 message syntax: start lines and
// field sections. Content framing lives in the transfer package and the
// field semantics in the semantic package.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc9110
//
// - https://datatracker.ietf.org/doc/html/rfc9112
package http

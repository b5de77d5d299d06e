// Package uri parses, validates and resolves Uniform Resource Identifiers.
//
// Components are stored unescaped; [URI.String] and the Escape helpers
// produce the percent-encoded forms used on the wire.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc3986
//
// - https://datatracker.ietf.org/doc/html/rfc5891 (hosts are converted to
// their ASCII form when parsed)
package uri

// Package protocol implements the wire codec for the statboard envelope
// format: a JSON object {type, id?, payload} wrapped around every message on
// the socket. The codec is stateless.
package protocol

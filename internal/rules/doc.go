// Package rules resolves the freshness policy of a request against a
// caller-owned rule table. Host patterns and path patterns are regular
// expressions evaluated in declaration order; the first match wins at each
// level. Resolution is pure: it never touches the network or the filesystem
// and it never remembers a previous decision, so edits to a Table take effect
// on the very next request.
package rules

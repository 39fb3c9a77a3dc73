package models

import "net/url"

// IdentityKey names the identity a window is counted against.
type IdentityKey struct {
	Kind  IdentityKind
	Value string
}

// String renders the key as "kind:value" with the value query-escaped, so
// distinct values always render distinct strings.
func (k IdentityKey) String() string {
	return k.Kind.String() + ":" + url.QueryEscape(k.Value)
}

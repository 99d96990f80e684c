// Package google holds what the Gmail and Calendar clients share: the OAuth
// scopes each service requests and the authorized HTTP client built on top of
// a credential handler.
package google

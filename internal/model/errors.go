package model

import "errors"

var (
	ErrInvalidPostData      = errors.New("invalid encrypted post data")
	ErrNotAuthenticated     = errors.New("viewer is not authenticated")
	ErrNoKeys               = errors.New("no key material for this feed")
	ErrRevoked              = errors.New("access has been revoked")
	ErrApprovedNoKeys       = errors.New("access approved but keys are not on this device")
	ErrPending              = errors.New("access request is pending")
	ErrRecoveryFailed       = errors.New("key recovery failed")
	ErrAuthenticationFailed = errors.New("decryption failed")
	ErrOldPostUndecryptable = errors.New("post predates the earliest key available to this viewer")

	ErrGrantNotFound  = errors.New("grant not found")
	ErrUnwrapFailed   = errors.New("unable to unwrap key material")
	ErrAnchorNotFound = errors.New("feed state anchor not found")

	// ErrKeyMaterialOutdated means the locally held key is older than the
	// post; a fresh grant or rekey entry has to be fetched.
	ErrKeyMaterialOutdated = errors.New("local key material missing or outdated")
)

package access

import "private_feed/internal/model"

type (
	// State is one of Idle, Loading, Recovering, Decrypted, Locked or
	// Errored. The set is closed.
	State interface {
		isState()
	}

	Idle       struct{}
	Loading    struct{}
	Recovering struct{}

	Decrypted struct {
		Content []byte
		Meta    Meta
	}

	Meta struct {
		PostID  string
		OwnerID model.Identity
		Epoch   model.Epoch
		// ByOwner is set when the viewer decrypted their own post.
		ByOwner bool
	}

	Locked struct {
		Reason  Reason
		Actions []Action
	}

	Errored struct {
		Kind      ErrorKind
		Message   string
		Retryable bool
	}

	Reason    string
	Action    string
	ErrorKind string
)

func (Idle) isState()       {}
func (Loading) isState()    {}
func (Recovering) isState() {}
func (Decrypted) isState()  {}
func (Locked) isState()     {}
func (Errored) isState()    {}

const (
	ReasonNoKeys         Reason = "no-keys"
	ReasonNoAuth         Reason = "no-auth"
	ReasonRevoked        Reason = "revoked"
	ReasonApprovedNoKeys Reason = "approved-no-keys"
	ReasonPending        Reason = "pending"
)

const (
	ActionLogIn         Action = "log-in"
	ActionRequestAccess Action = "request-access"
	ActionRecoverAccess Action = "recover-access"
	ActionCancelRequest Action = "cancel-request"
	ActionRetry         Action = "retry"
)

const (
	KindInvalidPostData      ErrorKind = "invalid-post-data"
	KindAuthenticationFailed ErrorKind = "authentication-failed"
	KindRecoveryFailed       ErrorKind = "recovery-failed"
	KindOldPostUndecryptable ErrorKind = "old-post-undecryptable"
	KindUnavailable          ErrorKind = "unavailable"
)

// Err is the sentinel a caller outside the state machine tests for.
func (r Reason) Err() error {
	switch r {
	case ReasonNoAuth:
		return model.ErrNotAuthenticated
	case ReasonNoKeys:
		return model.ErrNoKeys
	case ReasonPending:
		return model.ErrPending
	case ReasonRevoked:
		return model.ErrRevoked
	case ReasonApprovedNoKeys:
		return model.ErrApprovedNoKeys
	}
	return model.ErrNoKeys
}

func (r Reason) Message() string {
	switch r {
	case ReasonNoAuth:
		return "Log in to view this private post."
	case ReasonNoKeys:
		return "This post is only visible to approved followers. Request access to read it."
	case ReasonPending:
		return "Your follow request is waiting for the owner's approval."
	case ReasonRevoked:
		return "The owner has removed your access to this feed."
	case ReasonApprovedNoKeys:
		return "You are approved, but this device has no keys yet. Enter your encryption key to recover access."
	}
	return string(r)
}

func (r Reason) actions() []Action {
	switch r {
	case ReasonNoAuth:
		return []Action{ActionLogIn}
	case ReasonNoKeys:
		return []Action{ActionRequestAccess}
	case ReasonPending:
		return []Action{ActionCancelRequest}
	case ReasonApprovedNoKeys:
		return []Action{ActionRecoverAccess}
	}
	return nil
}

func locked(r Reason) Locked {
	return Locked{Reason: r, Actions: r.actions()}
}

// reasonFor maps a store-side status to the lock it causes. Approved has
// no lock.
func reasonFor(status model.AccessStatus) (Reason, bool) {
	switch status {
	case model.StatusPending:
		return ReasonPending, true
	case model.StatusRevoked:
		return ReasonRevoked, true
	case model.StatusApprovedNoKeys:
		return ReasonApprovedNoKeys, true
	case model.StatusNoKeys:
		return ReasonNoKeys, true
	}
	return "", false
}

// Terminal reports whether s ends an attempt.
func Terminal(s State) bool {
	switch s.(type) {
	case Decrypted, Locked, Errored:
		return true
	}
	return false
}

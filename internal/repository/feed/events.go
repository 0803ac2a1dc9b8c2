package feed

import (
	"private_feed/internal/model"
	"private_feed/internal/repository"
)

// EventScope names the (owner, viewer) pair whose access status ev may
// change. A zero viewer means every viewer of owner. ok is false when the
// event cannot change any status.
func EventScope(ev repository.Event) (owner, viewer model.Identity, ok bool) {
	owner, err := model.ParseIdentity(ev.OwnerID)
	if err != nil {
		return owner, viewer, false
	}

	// Deletes carry no fields, so the affected viewer is unknown.
	if ev.Op == repository.OpDelete {
		return owner, model.Identity{}, true
	}

	var key string
	switch ev.Type {
	case repository.TypeGrant:
		key = fieldFollowerID
	case repository.TypeFollowRequest:
		key = fieldRequesterID
	case repository.TypeRekey:
		key = fieldRevoked
	default:
		return owner, viewer, false
	}

	v, ok := ev.Fields[key]
	if !ok || v == "" {
		return owner, viewer, false
	}
	viewer, err = model.ParseIdentity(v)
	if err != nil {
		return owner, viewer, false
	}
	return owner, viewer, true
}

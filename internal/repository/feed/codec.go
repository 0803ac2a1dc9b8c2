package feed

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"private_feed/internal/model"
	"private_feed/internal/repository"
)

const (
	fieldFollowerID         = "followerId"
	fieldFollowerPublicKey  = "followerPublicKey"
	fieldWrappedKey         = "wrappedKey"
	fieldEpoch              = "epoch"
	fieldBaseEpoch          = "baseEpoch"
	fieldMaxEpoch           = "maxEpoch"
	fieldRevoked            = "revoked"
	fieldEntries            = "entries"
	fieldWrappedSeeds       = "wrappedSeeds"
	fieldRequesterID        = "requesterId"
	fieldRequesterPublicKey = "requesterPublicKey"
	fieldStatus             = "status"
)

func formatEpoch(e model.Epoch) string {
	return strconv.FormatUint(uint64(e), 10)
}

func parseEpoch(fields repository.Fields, key string) (model.Epoch, error) {
	v, err := strconv.ParseUint(fields[key], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return model.Epoch(v), nil
}

func parseBytes(fields repository.Fields, key string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(fields[key])
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", key, err)
	}
	return b, nil
}

func grantFields(g *model.Grant) repository.Fields {
	return repository.Fields{
		fieldFollowerID:        g.FollowerID.String(),
		fieldFollowerPublicKey: g.FollowerPublicKey.String(),
		fieldWrappedKey:        base64.StdEncoding.EncodeToString(g.WrappedKey),
		fieldEpoch:             formatEpoch(g.Epoch),
		fieldBaseEpoch:         formatEpoch(g.BaseEpoch),
	}
}

func decodeGrant(doc repository.Document) (model.Grant, error) {
	var (
		g   = model.Grant{ID: doc.ID, CreatedAt: doc.CreatedAt}
		err error
	)
	if g.OwnerID, err = model.ParseIdentity(doc.OwnerID); err != nil {
		return g, err
	}
	if g.FollowerID, err = model.ParseIdentity(doc.Fields[fieldFollowerID]); err != nil {
		return g, err
	}
	if g.FollowerPublicKey, err = model.ParsePublicKey(doc.Fields[fieldFollowerPublicKey]); err != nil {
		return g, err
	}
	if g.WrappedKey, err = parseBytes(doc.Fields, fieldWrappedKey); err != nil {
		return g, err
	}
	if g.Epoch, err = parseEpoch(doc.Fields, fieldEpoch); err != nil {
		return g, err
	}
	if g.BaseEpoch, err = parseEpoch(doc.Fields, fieldBaseEpoch); err != nil {
		return g, err
	}
	return g, nil
}

func rekeyFields(r *model.Rekey) (repository.Fields, error) {
	entries, err := json.Marshal(r.Entries)
	if err != nil {
		return nil, err
	}
	fields := repository.Fields{
		fieldEpoch:     formatEpoch(r.Epoch),
		fieldBaseEpoch: formatEpoch(r.BaseEpoch),
		fieldEntries:   string(entries),
	}
	if r.Revoked != nil {
		fields[fieldRevoked] = r.Revoked.String()
	}
	return fields, nil
}

func decodeRekey(doc repository.Document) (model.Rekey, error) {
	var (
		r   = model.Rekey{ID: doc.ID, CreatedAt: doc.CreatedAt}
		err error
	)
	if r.OwnerID, err = model.ParseIdentity(doc.OwnerID); err != nil {
		return r, err
	}
	if r.Epoch, err = parseEpoch(doc.Fields, fieldEpoch); err != nil {
		return r, err
	}
	if r.BaseEpoch, err = parseEpoch(doc.Fields, fieldBaseEpoch); err != nil {
		return r, err
	}
	if v, ok := doc.Fields[fieldRevoked]; ok {
		id, err := model.ParseIdentity(v)
		if err != nil {
			return r, err
		}
		r.Revoked = &id
	}
	if err := json.Unmarshal([]byte(doc.Fields[fieldEntries]), &r.Entries); err != nil {
		return r, fmt.Errorf("field %s: %w", fieldEntries, err)
	}
	return r, nil
}

func feedStateFields(s *model.FeedState) repository.Fields {
	return repository.Fields{
		fieldEpoch:        formatEpoch(s.Epoch),
		fieldMaxEpoch:     formatEpoch(s.MaxEpoch),
		fieldWrappedSeeds: base64.StdEncoding.EncodeToString(s.WrappedSeeds),
	}
}

func decodeFeedState(doc repository.Document) (model.FeedState, error) {
	var (
		s   = model.FeedState{ID: doc.ID, CreatedAt: doc.CreatedAt}
		err error
	)
	if s.OwnerID, err = model.ParseIdentity(doc.OwnerID); err != nil {
		return s, err
	}
	if s.Epoch, err = parseEpoch(doc.Fields, fieldEpoch); err != nil {
		return s, err
	}
	if s.MaxEpoch, err = parseEpoch(doc.Fields, fieldMaxEpoch); err != nil {
		return s, err
	}
	if s.WrappedSeeds, err = parseBytes(doc.Fields, fieldWrappedSeeds); err != nil {
		return s, err
	}
	return s, nil
}

func followRequestFields(r *model.FollowRequest) repository.Fields {
	return repository.Fields{
		fieldRequesterID:        r.RequesterID.String(),
		fieldRequesterPublicKey: r.RequesterPublicKey.String(),
		fieldStatus:             string(r.Status),
	}
}

func decodeFollowRequest(doc repository.Document) (model.FollowRequest, error) {
	var (
		r   = model.FollowRequest{ID: doc.ID, CreatedAt: doc.CreatedAt}
		err error
	)
	if r.OwnerID, err = model.ParseIdentity(doc.OwnerID); err != nil {
		return r, err
	}
	if r.RequesterID, err = model.ParseIdentity(doc.Fields[fieldRequesterID]); err != nil {
		return r, err
	}
	if r.RequesterPublicKey, err = model.ParsePublicKey(doc.Fields[fieldRequesterPublicKey]); err != nil {
		return r, err
	}
	r.Status = model.RequestStatus(doc.Fields[fieldStatus])
	return r, nil
}

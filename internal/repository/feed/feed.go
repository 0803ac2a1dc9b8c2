// Package feed maps grants, rekeys, feed anchors and follow requests onto
// the generic document store. Every document lives in its feed owner's
// namespace, so deletes are scoped by the feed owner.
package feed

import (
	"context"
	"fmt"

	"private_feed/internal/model"
	"private_feed/internal/repository"
)

type (
	FeedRepo struct {
		store repository.Store
	}
)

func NewFeedRepo(store repository.Store) *FeedRepo {
	return &FeedRepo{
		store: store,
	}
}

// GetGrant returns the newest grant from owner to follower, or nil.
func (r *FeedRepo) GetGrant(ctx context.Context, owner, follower model.Identity) (*model.Grant, error) {
	docs, err := r.store.Get(ctx, repository.TypeGrant, repository.Filter{
		repository.FieldOwner: owner.String(),
		fieldFollowerID:       follower.String(),
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	grant, err := decodeGrant(docs[len(docs)-1])
	if err != nil {
		return nil, fmt.Errorf("decode grant %s: %w", docs[len(docs)-1].ID, err)
	}
	return &grant, nil
}

func (r *FeedRepo) ListGrants(ctx context.Context, owner model.Identity) ([]model.Grant, error) {
	docs, err := r.store.Get(ctx, repository.TypeGrant, repository.Filter{
		repository.FieldOwner: owner.String(),
	})
	if err != nil {
		return nil, err
	}

	grants := make([]model.Grant, 0, len(docs))
	for _, doc := range docs {
		g, err := decodeGrant(doc)
		if err != nil {
			return nil, fmt.Errorf("decode grant %s: %w", doc.ID, err)
		}
		grants = append(grants, g)
	}
	return grants, nil
}

func (r *FeedRepo) CreateGrant(ctx context.Context, grant *model.Grant) (string, error) {
	doc, err := r.store.Create(ctx, repository.TypeGrant, grant.OwnerID, grantFields(grant))
	if err != nil {
		return "", err
	}
	grant.ID = doc.ID
	grant.CreatedAt = doc.CreatedAt
	return doc.ID, nil
}

func (r *FeedRepo) DeleteGrant(ctx context.Context, owner model.Identity, id string) error {
	return r.store.Delete(ctx, id, owner)
}

// ListRekeys returns owner's rekey log, oldest first.
func (r *FeedRepo) ListRekeys(ctx context.Context, owner model.Identity) ([]model.Rekey, error) {
	docs, err := r.store.Get(ctx, repository.TypeRekey, repository.Filter{
		repository.FieldOwner: owner.String(),
	})
	if err != nil {
		return nil, err
	}

	rekeys := make([]model.Rekey, 0, len(docs))
	for _, doc := range docs {
		rk, err := decodeRekey(doc)
		if err != nil {
			return nil, fmt.Errorf("decode rekey %s: %w", doc.ID, err)
		}
		rekeys = append(rekeys, rk)
	}
	return rekeys, nil
}

// GetTombstone returns the newest rekey that revoked follower, or nil.
func (r *FeedRepo) GetTombstone(ctx context.Context, owner, follower model.Identity) (*model.Rekey, error) {
	docs, err := r.store.Get(ctx, repository.TypeRekey, repository.Filter{
		repository.FieldOwner: owner.String(),
		fieldRevoked:          follower.String(),
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	rk, err := decodeRekey(docs[len(docs)-1])
	if err != nil {
		return nil, fmt.Errorf("decode rekey %s: %w", docs[len(docs)-1].ID, err)
	}
	return &rk, nil
}

func (r *FeedRepo) CreateRekey(ctx context.Context, rekey *model.Rekey) (string, error) {
	fields, err := rekeyFields(rekey)
	if err != nil {
		return "", err
	}
	doc, err := r.store.Create(ctx, repository.TypeRekey, rekey.OwnerID, fields)
	if err != nil {
		return "", err
	}
	rekey.ID = doc.ID
	rekey.CreatedAt = doc.CreatedAt
	return doc.ID, nil
}

// GetLatestFeedState returns the anchor with the highest epoch, or nil.
func (r *FeedRepo) GetLatestFeedState(ctx context.Context, owner model.Identity) (*model.FeedState, error) {
	docs, err := r.store.Get(ctx, repository.TypeFeedState, repository.Filter{
		repository.FieldOwner: owner.String(),
	})
	if err != nil {
		return nil, err
	}

	var latest *model.FeedState
	for _, doc := range docs {
		s, err := decodeFeedState(doc)
		if err != nil {
			return nil, fmt.Errorf("decode feed state %s: %w", doc.ID, err)
		}
		if latest == nil || s.Epoch >= latest.Epoch {
			latest = &s
		}
	}
	return latest, nil
}

func (r *FeedRepo) CreateFeedState(ctx context.Context, state *model.FeedState) (string, error) {
	doc, err := r.store.Create(ctx, repository.TypeFeedState, state.OwnerID, feedStateFields(state))
	if err != nil {
		return "", err
	}
	state.ID = doc.ID
	state.CreatedAt = doc.CreatedAt
	return doc.ID, nil
}

// GetFollowRequest returns requester's outstanding request to owner, or nil.
func (r *FeedRepo) GetFollowRequest(ctx context.Context, owner, requester model.Identity) (*model.FollowRequest, error) {
	docs, err := r.store.Get(ctx, repository.TypeFollowRequest, repository.Filter{
		repository.FieldOwner: owner.String(),
		fieldRequesterID:      requester.String(),
		fieldStatus:           string(model.RequestPending),
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	req, err := decodeFollowRequest(docs[0])
	if err != nil {
		return nil, fmt.Errorf("decode follow request %s: %w", docs[0].ID, err)
	}
	return &req, nil
}

func (r *FeedRepo) ListFollowRequests(ctx context.Context, owner model.Identity) ([]model.FollowRequest, error) {
	docs, err := r.store.Get(ctx, repository.TypeFollowRequest, repository.Filter{
		repository.FieldOwner: owner.String(),
		fieldStatus:           string(model.RequestPending),
	})
	if err != nil {
		return nil, err
	}

	reqs := make([]model.FollowRequest, 0, len(docs))
	for _, doc := range docs {
		req, err := decodeFollowRequest(doc)
		if err != nil {
			return nil, fmt.Errorf("decode follow request %s: %w", doc.ID, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (r *FeedRepo) CreateFollowRequest(ctx context.Context, req *model.FollowRequest) (string, error) {
	if req.Status == "" {
		req.Status = model.RequestPending
	}
	doc, err := r.store.Create(ctx, repository.TypeFollowRequest, req.OwnerID, followRequestFields(req))
	if err != nil {
		return "", err
	}
	req.ID = doc.ID
	req.CreatedAt = doc.CreatedAt
	return doc.ID, nil
}

func (r *FeedRepo) DeleteFollowRequest(ctx context.Context, owner model.Identity, id string) error {
	return r.store.Delete(ctx, id, owner)
}

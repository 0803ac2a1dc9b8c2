package model

import "time"

type (
	// Segment is one seed's stretch of the epoch line, starting at BaseEpoch.
	Segment struct {
		BaseEpoch Epoch    `json:"base"`
		Seed      FeedSeed `json:"seed"`
	}

	Grant struct {
		ID                string    `json:"id"`
		OwnerID           Identity  `json:"ownerId"`
		FollowerID        Identity  `json:"followerId"`
		FollowerPublicKey PublicKey `json:"followerPublicKey"`
		WrappedKey        []byte    `json:"wrappedKey"`
		Epoch             Epoch     `json:"epoch"`
		BaseEpoch         Epoch     `json:"baseEpoch"`
		CreatedAt         time.Time `json:"createdAt"`
	}

	RekeyEntry struct {
		FollowerID Identity `json:"followerId"`
		WrappedKey []byte   `json:"wrappedKey"`
	}

	// Rekey records an epoch advance. Revoked, when set, is the tombstone of
	// the follower whose grant the advance removed.
	Rekey struct {
		ID        string       `json:"id"`
		OwnerID   Identity     `json:"ownerId"`
		Epoch     Epoch        `json:"epoch"`
		BaseEpoch Epoch        `json:"baseEpoch"`
		Revoked   *Identity    `json:"revoked,omitempty"`
		Entries   []RekeyEntry `json:"entries"`
		CreatedAt time.Time    `json:"createdAt"`
	}

	// FeedState is the owner's recovery anchor.
	FeedState struct {
		ID           string    `json:"id"`
		OwnerID      Identity  `json:"ownerId"`
		Epoch        Epoch     `json:"epoch"`
		MaxEpoch     Epoch     `json:"maxEpoch"`
		WrappedSeeds []byte    `json:"wrappedSeeds"`
		CreatedAt    time.Time `json:"createdAt"`
	}

	RequestStatus string

	FollowRequest struct {
		ID                 string        `json:"id"`
		RequesterID        Identity      `json:"requesterId"`
		RequesterPublicKey PublicKey     `json:"requesterPublicKey"`
		OwnerID            Identity      `json:"ownerId"`
		Status             RequestStatus `json:"status"`
		CreatedAt          time.Time     `json:"createdAt"`
	}

	AccessStatus string
)

const (
	RequestNone     RequestStatus = "none"
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRevoked  RequestStatus = "revoked"
)

const (
	StatusApproved       AccessStatus = "approved"
	StatusApprovedNoKeys AccessStatus = "approved-no-keys"
	StatusPending        AccessStatus = "pending"
	StatusRevoked        AccessStatus = "revoked"
	StatusNoKeys         AccessStatus = "no-keys"
)

// CurrentSegment returns the segment covering the newest epoch.
func CurrentSegment(segments []Segment) (Segment, bool) {
	if len(segments) == 0 {
		return Segment{}, false
	}
	cur := segments[0]
	for _, s := range segments[1:] {
		if s.BaseEpoch > cur.BaseEpoch {
			cur = s
		}
	}
	return cur, true
}

// SegmentFor returns the segment that contains epoch.
func SegmentFor(segments []Segment, epoch Epoch) (Segment, bool) {
	var (
		best  Segment
		found bool
	)
	for _, s := range segments {
		if s.BaseEpoch <= epoch && (!found || s.BaseEpoch > best.BaseEpoch) {
			best = s
			found = true
		}
	}
	return best, found
}

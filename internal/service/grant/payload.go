package grant

import (
	"encoding/binary"
	"errors"

	"private_feed/internal/model"
)

const (
	keyPayloadSize = 8 + 8 + model.KeySize
	segmentSize    = 8 + model.KeySize
)

var (
	labelGrant  = []byte("private-feed/grant")
	labelRekey  = []byte("private-feed/rekey")
	labelAnchor = []byte("private-feed/anchor")

	errMalformedPayload = errors.New("malformed key payload")
)

// encodeKeyPayload lays out base || epoch || cek.
func encodeKeyPayload(base, epoch model.Epoch, cek model.CEK) []byte {
	b := make([]byte, keyPayloadSize)
	binary.BigEndian.PutUint64(b[0:8], uint64(base))
	binary.BigEndian.PutUint64(b[8:16], uint64(epoch))
	copy(b[16:], cek[:])
	return b
}

func decodeKeyPayload(b []byte) (base, epoch model.Epoch, cek model.CEK, err error) {
	if len(b) != keyPayloadSize {
		return 0, 0, cek, errMalformedPayload
	}
	base = model.Epoch(binary.BigEndian.Uint64(b[0:8]))
	epoch = model.Epoch(binary.BigEndian.Uint64(b[8:16]))
	copy(cek[:], b[16:])
	if epoch < base {
		return 0, 0, model.CEK{}, errMalformedPayload
	}
	return base, epoch, cek, nil
}

// keyAAD binds a wrapped key to the (owner, follower) pair it was made for.
func keyAAD(label []byte, owner, follower model.Identity) []byte {
	aad := make([]byte, 0, len(label)+2*model.IdentitySize)
	aad = append(aad, label...)
	aad = append(aad, owner[:]...)
	return append(aad, follower[:]...)
}

func encodeSegments(segments []model.Segment) []byte {
	b := make([]byte, len(segments)*segmentSize)
	for i, s := range segments {
		off := i * segmentSize
		binary.BigEndian.PutUint64(b[off:off+8], uint64(s.BaseEpoch))
		copy(b[off+8:off+segmentSize], s.Seed[:])
	}
	return b
}

func decodeSegments(b []byte) ([]model.Segment, error) {
	if len(b) == 0 || len(b)%segmentSize != 0 {
		return nil, errMalformedPayload
	}
	segments := make([]model.Segment, len(b)/segmentSize)
	for i := range segments {
		off := i * segmentSize
		segments[i].BaseEpoch = model.Epoch(binary.BigEndian.Uint64(b[off : off+8]))
		copy(segments[i].Seed[:], b[off+8:off+segmentSize])
	}
	return segments, nil
}

func anchorAAD(owner model.Identity, epoch, maxEpoch model.Epoch) []byte {
	aad := make([]byte, 0, len(labelAnchor)+model.IdentitySize+16)
	aad = append(aad, labelAnchor...)
	aad = append(aad, owner[:]...)
	aad = binary.BigEndian.AppendUint64(aad, uint64(epoch))
	return binary.BigEndian.AppendUint64(aad, uint64(maxEpoch))
}

// Package epochchain derives per-epoch content keys from a feed seed.
//
// The chain is generated from the top down: the key at MaxEpoch comes from the
// seed, every lower key is a one-way step of the key above it. Holding the key
// of epoch j therefore yields every epoch i <= j and nothing above j.
// Derive walks the distance one step at a time, O(j-i).
package epochchain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"private_feed/internal/cryptographic/kdf"
	"private_feed/internal/cryptographic/wipe"
	"private_feed/internal/model"
)

// DefaultMaxEpoch is the number of rotations one seed supports.
const DefaultMaxEpoch model.Epoch = 1023

var (
	ErrInvalidDerivationDirection = errors.New("epochchain: cannot derive a later epoch from an earlier one")
	ErrEpochOutOfRange            = errors.New("epochchain: epoch outside the seed's range")
)

var (
	topInfo  = []byte("private-feed/chain-top")
	stepInfo = []byte("private-feed/chain-step")
)

func topKey(seed model.FeedSeed, maxEpoch model.Epoch) (model.CEK, error) {
	var out model.CEK
	info := make([]byte, len(topInfo)+8)
	copy(info, topInfo)
	binary.BigEndian.PutUint64(info[len(topInfo):], uint64(maxEpoch))

	if _, err := kdf.HKDF(seed[:], nil, info, out[:]); err != nil {
		return out, fmt.Errorf("chain top: %w", err)
	}
	return out, nil
}

// step computes K_{i} from K_{i+1}.
func step(k model.CEK) (model.CEK, error) {
	var out model.CEK
	if _, err := kdf.Expand(k[:], stepInfo, out[:]); err != nil {
		return out, fmt.Errorf("chain step: %w", err)
	}
	return out, nil
}

// GenerateChain returns the keys for epochs 0..maxEpoch, indexed by epoch.
func GenerateChain(seed model.FeedSeed, maxEpoch model.Epoch) ([]model.CEK, error) {
	chain := make([]model.CEK, maxEpoch+1)
	k, err := topKey(seed, maxEpoch)
	if err != nil {
		return nil, err
	}
	chain[maxEpoch] = k
	for i := maxEpoch; i > 0; i-- {
		if chain[i-1], err = step(chain[i]); err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// KeyAt returns the key of a single epoch without keeping the whole chain.
func KeyAt(seed model.FeedSeed, maxEpoch, epoch model.Epoch) (model.CEK, error) {
	if epoch > maxEpoch {
		return model.CEK{}, ErrEpochOutOfRange
	}
	top, err := topKey(seed, maxEpoch)
	if err != nil {
		return model.CEK{}, err
	}
	return Derive(top, maxEpoch, epoch)
}

// Derive walks a key from epoch `from` down to epoch `to`.
func Derive(cek model.CEK, from, to model.Epoch) (model.CEK, error) {
	if to > from {
		return model.CEK{}, ErrInvalidDerivationDirection
	}
	k := cek
	for i := from; i > to; i-- {
		next, err := step(k)
		wipe.Bytes(k[:])
		if err != nil {
			return model.CEK{}, err
		}
		k = next
	}
	return k, nil
}

// SegmentKey resolves an absolute epoch against the owner's seed segments.
func SegmentKey(segments []model.Segment, maxEpoch, epoch model.Epoch) (model.CEK, error) {
	seg, ok := model.SegmentFor(segments, epoch)
	if !ok {
		return model.CEK{}, ErrEpochOutOfRange
	}
	return KeyAt(seg.Seed, maxEpoch, epoch-seg.BaseEpoch)
}

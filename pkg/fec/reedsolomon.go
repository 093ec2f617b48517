// Copyright 2025 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fec

import (
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
)

type rsKey struct {
	data, parity int
}

// ReedSolomon is a systematic Reed-Solomon code over GF(2^8). Any dataShards
// of the data plus parity shards recover the frame.
type ReedSolomon struct {
	mu       sync.Mutex
	encoders map[rsKey]reedsolomon.Encoder
}

func NewReedSolomon() *ReedSolomon {
	return &ReedSolomon{
		encoders: make(map[rsKey]reedsolomon.Encoder),
	}
}

func (r *ReedSolomon) Scheme() Scheme {
	return SchemeReedSolomon
}

// encoder returns a cached encoder, building the coding matrix only once per
// shard geometry.
func (r *ReedSolomon) encoder(dataShards, parityShards int) (reedsolomon.Encoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rsKey{data: dataShards, parity: parityShards}
	if enc, ok := r.encoders[key]; ok {
		return enc, nil
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("reed-solomon %d+%d: %w", dataShards, parityShards, err)
	}
	r.encoders[key] = enc
	return enc, nil
}

func (r *ReedSolomon) Encode(shards [][]byte, dataShards int) error {
	if _, err := checkShards(shards, dataShards); err != nil {
		return err
	}
	size, err := shardSize(shards, dataShards)
	if err != nil {
		return err
	}

	parityShards := len(shards) - dataShards
	if parityShards == 0 {
		return nil
	}
	allocParity(shards, dataShards, size)

	enc, err := r.encoder(dataShards, parityShards)
	if err != nil {
		return err
	}
	return enc.Encode(shards)
}

func (r *ReedSolomon) Reconstruct(shards [][]byte, dataShards int) error {
	present, err := checkShards(shards, dataShards)
	if err != nil {
		return err
	}
	if present < dataShards {
		return fmt.Errorf("%w: have %d, need %d", ErrTooFewShards, present, dataShards)
	}

	missing := false
	for _, s := range shards[:dataShards] {
		if s == nil {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}

	enc, err := r.encoder(dataShards, len(shards)-dataShards)
	if err != nil {
		return err
	}
	if err := enc.ReconstructData(shards); err != nil {
		return fmt.Errorf("reed-solomon reconstruct: %w", err)
	}
	return nil
}

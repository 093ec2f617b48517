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
	"crypto/subtle"
	"fmt"
)

// XOR is an interleaved single-parity code: parity shard j is the XOR of every
// data shard i with i % parityShards == j. Each interleave group survives the
// loss of one data shard.
type XOR struct{}

func NewXOR() *XOR {
	return &XOR{}
}

func (x *XOR) Scheme() Scheme {
	return SchemeXOR
}

func (x *XOR) Encode(shards [][]byte, dataShards int) error {
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

	for i := 0; i < dataShards; i++ {
		p := shards[dataShards+i%parityShards]
		subtle.XORBytes(p, p, shards[i])
	}
	return nil
}

func (x *XOR) Reconstruct(shards [][]byte, dataShards int) error {
	if _, err := checkShards(shards, dataShards); err != nil {
		return err
	}

	parityShards := len(shards) - dataShards
	lost := make([]int, 0, parityShards)
	for j := 0; j < parityShards; j++ {
		lostIdx := -1
		for i := j; i < dataShards; i += parityShards {
			if shards[i] != nil {
				continue
			}
			if lostIdx != -1 {
				return fmt.Errorf("%w: group %d lost more than one shard", ErrTooFewShards, j)
			}
			lostIdx = i
		}
		if lostIdx == -1 {
			continue
		}
		if shards[dataShards+j] == nil {
			return fmt.Errorf("%w: group %d lost its parity", ErrTooFewShards, j)
		}
		lost = append(lost, lostIdx)
	}
	if parityShards == 0 {
		for _, s := range shards {
			if s == nil {
				return fmt.Errorf("%w: no parity", ErrTooFewShards)
			}
		}
		return nil
	}

	for _, idx := range lost {
		j := idx % parityShards
		parity := shards[dataShards+j]
		out := make([]byte, len(parity))
		copy(out, parity)
		for i := j; i < dataShards; i += parityShards {
			if i != idx {
				subtle.XORBytes(out, out, shards[i])
			}
		}
		shards[idx] = out
	}
	return nil
}

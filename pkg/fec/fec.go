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

// Package fec implements the erasure codes that protect one video frame: the
// frame is split into equally sized data shards and a number of parity shards
// derived from the negotiated FEC percentage.
package fec

import "fmt"

// MaxShards is the largest data plus parity shard count a frame may use.
const MaxShards = 256

type Scheme int

const (
	SchemeReedSolomon Scheme = iota
	SchemeXOR
)

func (s Scheme) String() string {
	switch s {
	case SchemeReedSolomon:
		return "reed-solomon"
	case SchemeXOR:
		return "xor"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "rs", "reed-solomon", "reedsolomon":
		return SchemeReedSolomon, nil
	case "xor":
		return SchemeXOR, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

// Codec computes and applies parity over the shards of one frame.
//
// shards holds the data shards followed by the parity shards. A nil shard is
// missing. Every present shard must have the same length.
type Codec interface {
	Scheme() Scheme
	// Encode fills shards[dataShards:] from shards[:dataShards].
	Encode(shards [][]byte, dataShards int) error
	// Reconstruct fills every missing data shard in place. Missing parity
	// shards are left untouched.
	Reconstruct(shards [][]byte, dataShards int) error
}

// New returns the codec for a scheme.
func New(scheme Scheme) (Codec, error) {
	switch scheme {
	case SchemeReedSolomon:
		return NewReedSolomon(), nil
	case SchemeXOR:
		return NewXOR(), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownScheme, scheme)
	}
}

// ParityShards is the number of parity shards protecting dataShards at the
// given percentage, rounded up.
func ParityShards(dataShards, percentage int) int {
	if dataShards <= 0 || percentage <= 0 {
		return 0
	}
	return (dataShards*percentage + 99) / 100
}

func checkShards(shards [][]byte, dataShards int) (int, error) {
	if dataShards <= 0 || dataShards > len(shards) {
		return 0, fmt.Errorf("%w: %d data of %d", ErrInvalidShardCount, dataShards, len(shards))
	}
	if len(shards) > MaxShards {
		return 0, fmt.Errorf("%w: %d", ErrTooManyShards, len(shards))
	}

	size := -1
	present := 0
	for _, s := range shards {
		if s == nil {
			continue
		}
		present++
		if size == -1 {
			size = len(s)
		} else if len(s) != size {
			return 0, ErrShardSize
		}
	}
	if size == 0 {
		return 0, ErrShardSize
	}
	return present, nil
}

func shardSize(shards [][]byte, dataShards int) (int, error) {
	size := -1
	for _, s := range shards[:dataShards] {
		if s == nil {
			return 0, fmt.Errorf("%w: data shard missing", ErrTooFewShards)
		}
		if size == -1 {
			size = len(s)
		} else if len(s) != size {
			return 0, ErrShardSize
		}
	}
	if size == 0 {
		return 0, ErrShardSize
	}
	return size, nil
}

// allocParity makes every parity shard a zeroed slice of size bytes.
func allocParity(shards [][]byte, dataShards, size int) {
	for i := dataShards; i < len(shards); i++ {
		if cap(shards[i]) >= size {
			shards[i] = shards[i][:size]
			clear(shards[i])
		} else {
			shards[i] = make([]byte, size)
		}
	}
}

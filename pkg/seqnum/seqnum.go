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

// Package seqnum orders sequence-like counters that wrap around.
package seqnum

type signed interface {
	~int8 | ~int16 | ~int32 | ~int64
}

// IsBefore reports whether a precedes b.
//
// Equal values are never before each other. When a and b have the same sign the
// numeric order is authoritative. When the signs differ the wrap point lies
// between them and the order cannot be known from the values alone, so
// ambiguous is returned as is.
func IsBefore[T signed](a, b T, ambiguous bool) bool {
	if a == b {
		return false
	}

	if (a < 0) == (b < 0) {
		return a < b
	}

	return ambiguous
}

// IsBefore16 orders RTP sequence numbers. Values on opposite sides of the
// signed wrap point are resolved by their serial distance.
func IsBefore16(a, b uint16) bool {
	return IsBefore(int16(a), int16(b), int16(a-b) < 0)
}

// IsBefore32 orders frame counters the same way IsBefore16 orders sequence
// numbers. A jump of exactly half the range counts as going back.
func IsBefore32(a, b uint32) bool {
	return IsBefore(int32(a), int32(b), int32(a-b) < 0)
}

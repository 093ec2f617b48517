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

package fecqueue

import (
	"github.com/livekit/protocol/logger"

	"github.com/livekit/rtpfec/pkg/fec"
	"github.com/livekit/rtpfec/pkg/videortp"
)

// An Option configures a Queue
type Option func(q *Queue)

// WithPacketDroppedHandler sets a callback that's called for every packet the
// queue rejects or discards.
func WithPacketDroppedHandler(f func(pkt *videortp.Packet, reason DropReason)) Option {
	return func(q *Queue) {
		q.onPacketDropped = f
	}
}

// WithFrameLostHandler sets a callback that's called when a frame is given up
// on. This signifies unrecoverable loss.
func WithFrameLostHandler(f func(frame uint32)) Option {
	return func(q *Queue) {
		q.onFrameLost = f
	}
}

func WithLogger(l logger.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithCodec sets the erasure code used to rebuild lost data packets. It must
// match the code the sender protects frames with.
func WithCodec(c fec.Codec) Option {
	return func(q *Queue) {
		q.codec = c
	}
}

// WithMaxBufferSize caps the number of packets held for the frame being
// assembled.
func WithMaxBufferSize(size int) Option {
	return func(q *Queue) {
		if size > 0 {
			q.maxBufferSize = size
		}
	}
}

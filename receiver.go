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

package rtpfec

import (
	"context"
	"sync"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	protoLogger "github.com/livekit/protocol/logger"

	"github.com/livekit/rtpfec/pkg/fecqueue"
	"github.com/livekit/rtpfec/pkg/videortp"
)

type ReceiverParams struct {
	Logger       protoLogger.Logger
	QueueOptions []fecqueue.Option
}

type ReceiverOption func(*ReceiverParams)

func WithReceiverLogger(l protoLogger.Logger) ReceiverOption {
	return func(p *ReceiverParams) {
		p.Logger = l
	}
}

// WithQueueOptions passes options through to the underlying queue.
func WithQueueOptions(opts ...fecqueue.Option) ReceiverOption {
	return func(p *ReceiverParams) {
		p.QueueOptions = append(p.QueueOptions, opts...)
	}
}

type ReceiverStats struct {
	fecqueue.Stats
	Window      fecqueue.Window
	ParseErrors uint64
}

// Receiver owns one queue and serializes every call into it, so it can be
// fed by a transport goroutine and drained by a consumer goroutine.
type Receiver struct {
	id     string
	logger protoLogger.Logger

	lock  sync.Mutex
	queue *fecqueue.Queue

	readyCh chan struct{}
	closed  core.Fuse

	parseErrors atomic.Uint64
}

func NewReceiver(opts ...ReceiverOption) *Receiver {
	params := &ReceiverParams{}
	for _, opt := range opts {
		opt(params)
	}
	if params.Logger == nil {
		params.Logger = getLogger()
	}

	r := &Receiver{
		id:      uuid.NewString(),
		readyCh: make(chan struct{}, 1),
	}
	r.logger = params.Logger.WithValues("receiverID", r.id)

	queueOpts := append([]fecqueue.Option{fecqueue.WithLogger(r.logger)}, params.QueueOptions...)
	r.queue = fecqueue.New(queueOpts...)
	r.queue.Initialize()
	return r
}

func (r *Receiver) ID() string {
	return r.id
}

// PushRTP parses a raw RTP datagram and admits it. The buffer is copied, the
// caller may reuse it.
func (r *Receiver) PushRTP(buf []byte) (fecqueue.Result, error) {
	if r.closed.IsBroken() {
		return fecqueue.Rejected, ErrReceiverClosed
	}

	pkt, err := videortp.Unmarshal(buf)
	if err != nil {
		r.parseErrors.Inc()
		r.logger.Debugw("could not parse packet", "error", err, "size", len(buf))
		return fecqueue.Rejected, err
	}
	return r.Push(pkt)
}

func (r *Receiver) Push(pkt *videortp.Packet) (fecqueue.Result, error) {
	r.lock.Lock()
	if r.closed.IsBroken() {
		r.lock.Unlock()
		return fecqueue.Rejected, ErrReceiverClosed
	}
	res := r.queue.Admit(pkt)
	r.lock.Unlock()

	if res == fecqueue.QueuedPacketsReady {
		r.notify()
	}
	return res, nil
}

// Pop returns the next in-order packet, or nil when none is ready.
func (r *Receiver) Pop() *videortp.Packet {
	pkt, _ := r.pop()
	return pkt
}

// ReadPacket blocks until a packet is ready, the receiver is closed, or ctx
// is done.
func (r *Receiver) ReadPacket(ctx context.Context) (*videortp.Packet, error) {
	for {
		pkt, more := r.pop()
		if pkt != nil {
			if more {
				// wake any other reader
				r.notify()
			}
			return pkt, nil
		}

		select {
		case <-r.readyCh:
		case <-r.closed.Watch():
			return nil, ErrReceiverClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Reset drops all state so the receiver can follow a restarted stream.
func (r *Receiver) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.queue.Initialize()
	r.parseErrors.Store(0)
	r.logger.Debugw("receiver reset")
}

func (r *Receiver) Stats() ReceiverStats {
	r.lock.Lock()
	defer r.lock.Unlock()

	return ReceiverStats{
		Stats:       r.queue.Stats(),
		Window:      r.queue.Window(),
		ParseErrors: r.parseErrors.Load(),
	}
}

func (r *Receiver) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed.IsBroken() {
		return
	}
	r.closed.Break()

	stats := r.queue.Stats()
	r.queue.Cleanup()
	r.logger.Debugw("receiver closed",
		"admitted", stats.PacketsAdmitted,
		"popped", stats.PacketsPopped,
		"recovered", stats.PacketsRecovered,
		"framesLost", stats.FramesLost,
	)
}

func (r *Receiver) pop() (*videortp.Packet, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	pkt := r.queue.Pop()
	_, ready := r.queue.Len()
	return pkt, ready != 0
}

func (r *Receiver) notify() {
	select {
	case r.readyCh <- struct{}{}:
	default:
	}
}

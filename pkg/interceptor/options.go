package interceptor

import (
	"github.com/livekit/protocol/logger"

	"github.com/livekit/rtpfec/pkg/fecqueue"
)

type Option func(f *FECReceiverInterceptorFactory)

func WithLogger(l logger.Logger) Option {
	return func(f *FECReceiverInterceptorFactory) {
		f.logger = l
	}
}

// WithPayloadTypes restricts the interceptor to streams with these payload
// types. Without it every remote stream is bound.
func WithPayloadTypes(pts ...uint8) Option {
	return func(f *FECReceiverInterceptorFactory) {
		for _, pt := range pts {
			f.payloadTypes[pt] = true
		}
	}
}

func WithQueueOptions(opts ...fecqueue.Option) Option {
	return func(f *FECReceiverInterceptorFactory) {
		f.queueOpts = append(f.queueOpts, opts...)
	}
}

// WithPictureLossIndication sends a PLI upstream each time a frame is lost.
func WithPictureLossIndication() Option {
	return func(f *FECReceiverInterceptorFactory) {
		f.sendPLI = true
	}
}

// WithMTU sets the largest datagram read from the transport.
func WithMTU(mtu int) Option {
	return func(f *FECReceiverInterceptorFactory) {
		if mtu > 0 {
			f.mtu = mtu
		}
	}
}

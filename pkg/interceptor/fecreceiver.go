package interceptor

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/rtpfec/pkg/fecqueue"
	"github.com/livekit/rtpfec/pkg/videortp"
)

const defaultMTU = 1500

type FECReceiverInterceptorFactory struct {
	logger       logger.Logger
	payloadTypes map[uint8]bool
	queueOpts    []fecqueue.Option
	sendPLI      bool
	mtu          int
	pool         *PacketPool

	lock         sync.Mutex
	interceptors []*FECReceiverInterceptor
}

func NewFECReceiverInterceptorFactory(opts ...Option) *FECReceiverInterceptorFactory {
	f := &FECReceiverInterceptorFactory{
		logger:       logger.GetLogger(),
		payloadTypes: make(map[uint8]bool),
		mtu:          defaultMTU,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.pool = NewPacketPool(f.mtu)
	return f
}

// NewInterceptor constructs a new FECReceiverInterceptor
func (f *FECReceiverInterceptorFactory) NewInterceptor(id string) (interceptor.Interceptor, error) {
	i := &FECReceiverInterceptor{
		factory: f,
		logger:  f.logger.WithValues("interceptorID", id),
		streams: make(map[uint32]*fecStream),
	}

	f.lock.Lock()
	f.interceptors = append(f.interceptors, i)
	f.lock.Unlock()
	return i, nil
}

// Stats returns the queue statistics of every bound stream, keyed by SSRC.
func (f *FECReceiverInterceptorFactory) Stats() map[uint32]fecqueue.Stats {
	f.lock.Lock()
	defer f.lock.Unlock()

	stats := make(map[uint32]fecqueue.Stats)
	for _, i := range f.interceptors {
		for ssrc, s := range i.Stats() {
			stats[ssrc] = s
		}
	}
	return stats
}

func (f *FECReceiverInterceptorFactory) supports(info *interceptor.StreamInfo) bool {
	if len(f.payloadTypes) == 0 {
		return true
	}
	return f.payloadTypes[info.PayloadType]
}

// FECReceiverInterceptor runs each bound remote stream through a FEC queue.
// Reads return only data packets, in order, including those rebuilt from
// parity.
type FECReceiverInterceptor struct {
	interceptor.NoOp

	factory *FECReceiverInterceptorFactory
	logger  logger.Logger
	writer  atomic.Value

	lock    sync.Mutex
	streams map[uint32]*fecStream
}

type fecStream struct {
	lock  sync.Mutex
	queue *fecqueue.Queue
	// pending was popped but did not fit the reader's buffer
	pending *videortp.Packet
}

func (s *fecStream) admit(pkt *videortp.Packet) fecqueue.Result {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.queue.Admit(pkt)
}

func (s *fecStream) pop() *videortp.Packet {
	s.lock.Lock()
	defer s.lock.Unlock()

	if pkt := s.pending; pkt != nil {
		s.pending = nil
		return pkt
	}
	return s.queue.Pop()
}

// unpop puts pkt back so the next read returns it first.
func (s *fecStream) unpop(pkt *videortp.Packet) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pending = pkt
}

func (s *fecStream) stats() fecqueue.Stats {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.queue.Stats()
}

func (s *fecStream) cleanup() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pending = nil
	s.queue.Cleanup()
}

func (i *FECReceiverInterceptor) BindRTCPWriter(writer interceptor.RTCPWriter) interceptor.RTCPWriter {
	i.writer.Store(writer)
	return writer
}

func (i *FECReceiverInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	if !i.factory.supports(info) {
		return reader
	}

	ssrc := info.SSRC
	lgr := i.logger.WithValues("ssrc", ssrc)

	opts := []fecqueue.Option{fecqueue.WithLogger(lgr)}
	if i.factory.sendPLI {
		opts = append(opts, fecqueue.WithFrameLostHandler(func(frame uint32) {
			i.sendPLI(ssrc, frame)
		}))
	}
	s := &fecStream{queue: fecqueue.New(append(opts, i.factory.queueOpts...)...)}
	s.queue.Initialize()

	i.lock.Lock()
	i.streams[ssrc] = s
	i.lock.Unlock()

	pool := i.factory.pool
	mtu := i.factory.mtu
	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		for {
			if pkt := s.pop(); pkt != nil {
				n, err := pkt.MarshalTo(b)
				if err != nil {
					s.unpop(pkt)
					return 0, nil, err
				}
				return n, make(interceptor.Attributes), nil
			}

			// read into an MTU sized buffer, b may be too short for a packet
			// that still has to be queued
			buf, bufPool := pool.Get(mtu)
			n, _, err := reader.Read(*buf, a)
			if err != nil {
				pool.Put(buf, bufPool)
				return 0, nil, err
			}
			pkt, err := videortp.Unmarshal((*buf)[:n])
			pool.Put(buf, bufPool)
			if err != nil {
				lgr.Debugw("dropping unparsable packet", "error", err, "size", n)
				continue
			}
			s.admit(pkt)
		}
	})
}

func (i *FECReceiverInterceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
	i.lock.Lock()
	s := i.streams[info.SSRC]
	delete(i.streams, info.SSRC)
	i.lock.Unlock()

	if s != nil {
		s.cleanup()
	}
}

func (i *FECReceiverInterceptor) Stats() map[uint32]fecqueue.Stats {
	i.lock.Lock()
	defer i.lock.Unlock()

	stats := make(map[uint32]fecqueue.Stats, len(i.streams))
	for ssrc, s := range i.streams {
		stats[ssrc] = s.stats()
	}
	return stats
}

func (i *FECReceiverInterceptor) Close() error {
	i.lock.Lock()
	defer i.lock.Unlock()

	for ssrc, s := range i.streams {
		s.cleanup()
		delete(i.streams, ssrc)
	}
	return nil
}

func (i *FECReceiverInterceptor) sendPLI(ssrc uint32, frame uint32) {
	w, ok := i.writer.Load().(interceptor.RTCPWriter)
	if !ok {
		return
	}

	pkts := []rtcp.Packet{&rtcp.PictureLossIndication{
		SenderSSRC: ssrc,
		MediaSSRC:  ssrc,
	}}
	if _, err := w.Write(pkts, nil); err != nil {
		i.logger.Warnw("could not send PLI", err, "ssrc", ssrc, "frame", frame)
	}
}

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
	"github.com/livekit/rtpfec/pkg/videortp"
)

type handle int32

const nilHandle handle = -1

type listID uint8

const (
	listNone listID = iota
	listBuffer
	listReady
)

// entry owns one packet. It sits in exactly one list at a time; moving it
// between lists moves its handle, never the packet.
type entry struct {
	packet *videortp.Packet
	list   listID
	next   handle
}

// arena holds every entry of a queue. Released entries are kept on a free
// list and reused, so handles stay valid until released.
type arena struct {
	entries []entry
	free    handle
	size    int
}

func newArena() arena {
	return arena{free: nilHandle}
}

func (a *arena) alloc(pkt *videortp.Packet, list listID) handle {
	a.size++

	h := a.free
	if h == nilHandle {
		a.entries = append(a.entries, entry{})
		h = handle(len(a.entries) - 1)
	} else {
		a.free = a.entries[h].next
	}

	e := &a.entries[h]
	e.packet = pkt
	e.list = list
	e.next = nilHandle
	return h
}

func (a *arena) get(h handle) *entry {
	return &a.entries[h]
}

func (a *arena) packet(h handle) *videortp.Packet {
	return a.entries[h].packet
}

// release frees the entry and hands its packet back to the caller.
func (a *arena) release(h handle) *videortp.Packet {
	a.size--

	e := &a.entries[h]
	pkt := e.packet
	e.packet = nil
	e.list = listNone
	e.next = a.free
	a.free = h
	return pkt
}

func (a *arena) reset() {
	clear(a.entries)
	a.entries = a.entries[:0]
	a.free = nilHandle
	a.size = 0
}

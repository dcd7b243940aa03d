package session

import "github.com/edwiny/rstream/proto"

// NextFrame tries to pull one complete frame off the front of the read
// buffer. ok is false when the buffer doesn't yet hold a full frame (the
// caller should stop processing this session until more bytes arrive);
// err is non-nil only on a malformed stream.
func (s *Session) NextFrame() (hdr proto.Header, payload []byte, ok bool, err error) {
	raw := s.Read.Peek()
	hdr, payload, consumed, ready, err := proto.DecodeFrame(raw)
	if err != nil {
		return proto.Header{}, nil, false, err
	}
	if !ready || consumed == 0 {
		return proto.Header{}, nil, false, nil
	}
	// Copy the payload out before consuming: Get/PushFront mutate the
	// buffer's backing array and Peek's slice aliases it.
	out := make([]byte, len(payload))
	copy(out, payload)
	s.Read.Get(consumed)
	return hdr, out, true, nil
}

// SendFrame encodes a header and its payload and enqueues them for the
// next Flush.
func (s *Session) SendFrame(hdr proto.Header, payload []byte) {
	s.Enqueue(hdr.Encode())
	if len(payload) > 0 {
		s.Enqueue(payload)
	}
}

package proto

import "fmt"

// MaxHeaderSize bounds a single header per spec.md §4.2 ("at most ~256
// bytes"). A decoder that hasn't found a terminating '}' within this many
// bytes treats the stream as desynchronized.
const MaxHeaderSize = 256

// FindHeaderEnd scans buf for the first unescaped '}' that lies outside a
// quoted string - the header's closing brace, since the dialect forbids
// nested '}' within a single header. It returns the index one past that
// brace and true, or (0, false) if the header isn't complete yet (the
// caller should wait for more bytes without consuming any).
func FindHeaderEnd(buf []byte) (int, bool) {
	inQuote := false
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if inQuote {
			if c == '\\' && i+1 < len(buf) && buf[i+1] == '"' {
				i++ // skip the escaped quote
				continue
			}
			if c == '"' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '}':
			return i + 1, true
		}
	}
	return 0, false
}

// DecodeFrame attempts to split one full frame (header + payload) off the
// front of buf. On success it returns the decoded header, the payload
// bytes, the total number of bytes consumed from buf (> 0), and
// ready=true. When consumed is 0, ready indicates whether the caller
// should simply wait for more bytes (true) or the stream is malformed
// (false, err non-nil).
func DecodeFrame(buf []byte) (hdr Header, payload []byte, consumed int, ready bool, err error) {
	end, found := FindHeaderEnd(buf)
	if !found {
		if len(buf) > MaxHeaderSize {
			return Header{}, nil, 0, false, fmt.Errorf("proto: header exceeds %d bytes without a terminator", MaxHeaderSize)
		}
		return Header{}, nil, 0, true, nil
	}
	if end > MaxHeaderSize {
		return Header{}, nil, 0, false, fmt.Errorf("proto: header of %d bytes exceeds max %d", end, MaxHeaderSize)
	}
	hdr, err = DecodeHeader(buf[:end])
	if err != nil {
		return Header{}, nil, 0, false, err
	}
	need := int(hdr.PayloadLen())
	if len(buf)-end < need {
		// Payload not fully arrived yet: nothing is consumed, so the
		// caller simply waits and re-parses the header on the next call.
		return Header{}, nil, 0, true, nil
	}
	payload = buf[end : end+need]
	return hdr, payload, end + need, true, nil
}

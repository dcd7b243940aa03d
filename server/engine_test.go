package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/edwiny/rstream/cmn"
	"github.com/edwiny/rstream/proto"
)

// readFrame accumulates bytes from conn into buf until proto.DecodeFrame
// reports a complete frame, then slices the consumed bytes off the front.
func readFrame(t *testing.T, conn net.Conn, buf *[]byte) (proto.Header, []byte) {
	t.Helper()
	for {
		hdr, payload, consumed, ready, err := proto.DecodeFrame(*buf)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if ready && consumed > 0 {
			out := make([]byte, len(payload))
			copy(out, payload)
			*buf = (*buf)[consumed:]
			return hdr, out
		}
		tmp := make([]byte, 4096)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := conn.Read(tmp)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		*buf = append(*buf, tmp[:n]...)
	}
}

func TestEngineListAndStream(t *testing.T) {
	root := t.TempDir()
	content := "line one\nline two\n"
	if err := os.WriteFile(filepath.Join(root, "a.log"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &cmn.Config{Dir: root, Port: 0, Include: regexp.MustCompile(`\.log$`), Checksums: true}
	eng, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	go eng.Run()
	defer eng.Stop.Close()

	addr := eng.Listener.Addr().(*net.TCPAddr)
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", addr.Port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var buf []byte
	var list map[string]proto.ListEntry
	for i := 0; i < 40; i++ {
		if _, err := conn.Write(proto.Header{Cmd: proto.CmdList}.Encode()); err != nil {
			t.Fatal(err)
		}
		hdr, payload := readFrame(t, conn, &buf)
		if hdr.P != proto.PktFullList {
			t.Fatalf("expected full list packet, got %q", hdr.P)
		}
		list, err = proto.DecodeList(payload)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := list["a.log"]; ok {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	entry, ok := list["a.log"]
	if !ok {
		t.Fatal("a.log never appeared in the list")
	}
	if entry.Size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", entry.Size, len(content))
	}

	if _, err := conn.Write(proto.Header{Cmd: proto.CmdStream, F: "a.log", O: proto.WithOffset(0)}.Encode()); err != nil {
		t.Fatal(err)
	}

	var got []byte
	for {
		hdr, payload := readFrame(t, conn, &buf)
		switch hdr.P {
		case proto.PktBlock:
			got = append(got, payload...)
		case proto.PktStatus:
			switch hdr.State() {
			case proto.StFail:
				t.Fatal("server reported STREAM failure")
			case proto.StComplete:
				if string(got) != content {
					t.Fatalf("streamed content = %q, want %q", got, content)
				}
				return
			}
		}
	}
}

package modbus

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/stretchr/testify/require"
)

// testServer is a minimal Modbus TCP slave for FC01, FC02, FC04 and FC05.
type testServer struct {
	ln         net.Listener
	mu         sync.Mutex
	input      [32]uint16
	discrete   [8]bool
	coils      [8]bool
	exceptions map[byte]byte
	requests   []byte
	wg         sync.WaitGroup
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{ln: ln, exceptions: make(map[byte]byte)}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *testServer) endpoint(t *testing.T) domain.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return domain.Endpoint{Host: host, Port: port}
}

func (s *testServer) setFloat(address uint16, v float32) {
	regs := EncodeFloat32(v, domain.WordOrderHighLow)
	s.mu.Lock()
	s.input[address], s.input[address+1] = regs[0], regs[1]
	s.mu.Unlock()
}

func (s *testServer) setException(fc, code byte) {
	s.mu.Lock()
	s.exceptions[fc] = code
	s.mu.Unlock()
}

func (s *testServer) coil(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coils[i]
}

func (s *testServer) functionCodes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.requests...)
}

func (s *testServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

func (s *testServer) handle(conn net.Conn) {
	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		if length < 2 {
			return
		}
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		resp := s.respond(pdu)
		out := make([]byte, 7+len(resp))
		copy(out, header[:4])
		binary.BigEndian.PutUint16(out[4:], uint16(len(resp)+1))
		out[6] = header[6]
		copy(out[7:], resp)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (s *testServer) respond(pdu []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc := pdu[0]
	s.requests = append(s.requests, fc)
	if code, ok := s.exceptions[fc]; ok {
		return []byte{fc | 0x80, code}
	}

	address := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	switch fc {
	case 0x01, 0x02:
		src := s.coils[:]
		if fc == 0x02 {
			src = s.discrete[:]
		}
		packed := make([]byte, (int(value)+7)/8)
		for i := 0; i < int(value); i++ {
			if src[int(address)+i] {
				packed[i/8] |= 1 << uint(i%8)
			}
		}
		return append([]byte{fc, byte(len(packed))}, packed...)
	case 0x04:
		out := []byte{fc, byte(value * 2)}
		for i := uint16(0); i < value; i++ {
			out = binary.BigEndian.AppendUint16(out, s.input[address+i])
		}
		return out
	case 0x05:
		s.coils[address] = value == 0xFF00
		return append([]byte(nil), pdu[:5]...)
	default:
		return []byte{fc | 0x80, 0x01}
	}
}

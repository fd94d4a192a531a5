package ofctrl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"

	log "github.com/sirupsen/logrus"
)

// Size of the openflow header every message starts with
const ofpHeaderLen = 8

// Number of receive buffers per stream
const numStreamBuffers = 50

var ErrStreamClosed = errors.New("openflow message stream is closed")

type BufferPool struct {
	Empty chan *bytes.Buffer
	Full  chan *bytes.Buffer
}

func NewBufferPool() *BufferPool {
	m := new(BufferPool)
	m.Empty = make(chan *bytes.Buffer, numStreamBuffers)
	m.Full = make(chan *bytes.Buffer, numStreamBuffers)

	for i := 0; i < numStreamBuffers; i++ {
		m.Empty <- bytes.NewBuffer(make([]byte, 0, 2048))
	}
	return m
}

type MessageStream struct {
	conn net.Conn
	pool *BufferPool
	// OpenFlow Version
	Version uint8
	// Channel on which to publish connection errors
	Error chan error
	// Channel on which to publish inbound messages
	Inbound chan util.Message
	// Channel on which to receive outbound messages
	Outbound chan util.Message

	done      chan struct{}
	closeOnce sync.Once
}

// Returns a pointer to a new MessageStream. Used to parse
// OpenFlow messages from conn.
func NewMessageStream(conn net.Conn) *MessageStream {
	m := &MessageStream{
		conn:     conn,
		pool:     NewBufferPool(),
		Error:    make(chan error, 1),
		Inbound:  make(chan util.Message, 1),
		Outbound: make(chan util.Message, 16),
		done:     make(chan struct{}),
	}

	go m.outbound()
	go m.inbound()

	// A single parser keeps messages of a switch in arrival order
	go m.parse()

	return m
}

func (m *MessageStream) GetAddr() net.Addr {
	return m.conn.RemoteAddr()
}

// Queue a message for transmission. Never blocks once the stream is closed.
func (m *MessageStream) Send(msg util.Message) error {
	select {
	case <-m.done:
		return ErrStreamClosed
	default:
	}

	select {
	case m.Outbound <- msg:
		return nil
	case <-m.done:
		return ErrStreamClosed
	}
}

// Done is closed when the stream has shut down
func (m *MessageStream) Done() <-chan struct{} {
	return m.done
}

// Close the underlying connection and stop all stream goroutines
func (m *MessageStream) Close() {
	m.closeOnce.Do(func() {
		log.Debugf("Closing OpenFlow message stream to %v", m.conn.RemoteAddr())
		close(m.done)
		m.conn.Close()
	})
}

// Publish an error without blocking. Only the first error matters.
func (m *MessageStream) fail(err error) {
	select {
	case m.Error <- err:
	default:
	}
	m.Close()
}

// Write outbound messages until the stream closes
func (m *MessageStream) outbound() {
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.Outbound:
			// Forward outbound messages to conn
			data, err := msg.MarshalBinary()
			if err != nil {
				log.Errorf("Error marshaling message %+v. Err: %v", msg, err)
				continue
			}

			if _, err := m.conn.Write(data); err != nil {
				log.Warnf("OutboundError: %v", err)
				m.fail(err)
				return
			}

			log.Debugf("Sent: %v", data)
		}
	}
}

// Read framed messages off the connection and hand them to the parser
func (m *MessageStream) inbound() {
	hdr := make([]byte, ofpHeaderLen)

	for {
		if _, err := io.ReadFull(m.conn, hdr); err != nil {
			log.Debugf("InboundError: %v", err)
			m.fail(err)
			return
		}

		msgLen := int(binary.BigEndian.Uint16(hdr[2:4]))
		if msgLen < ofpHeaderLen {
			m.fail(fmt.Errorf("invalid openflow message length %d", msgLen))
			return
		}

		var buf *bytes.Buffer
		select {
		case buf = <-m.pool.Empty:
		case <-m.done:
			return
		}

		buf.Write(hdr)
		if _, err := io.CopyN(buf, m.conn, int64(msgLen-ofpHeaderLen)); err != nil {
			log.Debugf("InboundError: %v", err)
			m.fail(err)
			return
		}

		select {
		case m.pool.Full <- buf:
		case <-m.done:
			return
		}
	}
}

// Parse a single openflow message. Only openflow 1.3 messages are fully
// decoded; hellos of other versions are decoded so the version can be
// negotiated. Packet-ins keep their frame undecoded.
func Parse(b []byte) (message util.Message, err error) {
	if len(b) < ofpHeaderLen {
		return nil, fmt.Errorf("short openflow message: %d bytes", len(b))
	}

	// The codec does not bounds check every field
	defer func() {
		if r := recover(); r != nil {
			message = nil
			err = fmt.Errorf("malformed openflow message type %d: %v", b[1], r)
		}
	}()

	switch {
	case b[0] == openflow13.VERSION && b[1] == openflow13.Type_PacketIn:
		pkt := new(PacketIn)
		err = pkt.UnmarshalBinary(b)
		message = pkt
	case b[0] == openflow13.VERSION:
		message, err = openflow13.Parse(b)
	case b[1] == openflow13.Type_Hello:
		hello := new(common.Hello)
		err = hello.UnmarshalBinary(b)
		message = hello
	default:
		hdr := new(common.Header)
		err = hdr.UnmarshalBinary(b)
		message = hdr
	}
	return
}

func (m *MessageStream) parse() {
	for {
		var b *bytes.Buffer
		select {
		case b = <-m.pool.Full:
		case <-m.done:
			return
		}

		log.Debugf("Rcvd: %v", b.Bytes())
		msg, err := Parse(b.Bytes())
		b.Reset()
		m.pool.Empty <- b

		// Log all message parsing errors.
		if err != nil {
			log.Warnf("Error parsing openflow message. Err: %v", err)
			continue
		}

		select {
		case m.Inbound <- msg:
		case <-m.done:
			return
		}
	}
}

package relay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// The game client speaks length-prefixed binary frames: a big-endian uint16
// frame length followed by a category byte, a code byte and the payload.
// Strings inside payloads are uint16-length-prefixed UTF-8. Only the
// connection and chat planes are interpreted here; every other frame is
// carried through Decoder.Next untouched and ignored by the endpoint.
const (
	catConnection byte = 1
	codeLogin     byte = 1

	catChat         byte = 6
	codeRoomMessage byte = 6
	codeWhisper     byte = 7
)

const maxFrameSize = 0xFFFF

type Packet struct {
	Category byte
	Code     byte
	Payload  []byte
}

func (p Packet) is(category, code byte) bool {
	return p.Category == category && p.Code == code
}

type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until a full frame is available and returns it. io.EOF (or a
// net error) means the connection is gone.
func (d *Decoder) Next() (Packet, error) {
	var header [2]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return Packet{}, err
	}
	length := binary.BigEndian.Uint16(header[:])
	if length < 2 {
		return Packet{}, fmt.Errorf("frame too short: %d bytes", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return Packet{}, err
	}

	return Packet{Category: body[0], Code: body[1], Payload: body[2:]}, nil
}

type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

func (e *Encoder) Encode(p Packet) error {
	length := len(p.Payload) + 2
	if length > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", length)
	}

	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(length))
	if _, err := e.w.Write(header[:]); err != nil {
		return err
	}
	if err := e.w.WriteByte(p.Category); err != nil {
		return err
	}
	if err := e.w.WriteByte(p.Code); err != nil {
		return err
	}
	if _, err := e.w.Write(p.Payload); err != nil {
		return err
	}

	return e.w.Flush()
}

type payloadReader struct {
	buf []byte
	err error
}

func (r *payloadReader) string() string {
	if r.err != nil {
		return ""
	}
	if len(r.buf) < 2 {
		r.err = io.ErrUnexpectedEOF
		return ""
	}
	n := int(binary.BigEndian.Uint16(r.buf))
	r.buf = r.buf[2:]
	if len(r.buf) < n {
		r.err = io.ErrUnexpectedEOF
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// LoginPacket announces the account a game client logged in as.
type LoginPacket struct {
	Username string
}

func (p LoginPacket) packet() Packet {
	return Packet{Category: catConnection, Code: codeLogin, Payload: appendString(nil, p.Username)}
}

func decodeLogin(p Packet) (LoginPacket, error) {
	r := &payloadReader{buf: p.Payload}
	out := LoginPacket{Username: r.string()}
	return out, r.err
}

// ChatPacket is a room chat line, client→relay (sent) or relay→client (send).
type ChatPacket struct {
	Sender string
	Text   string
}

func (p ChatPacket) packet() Packet {
	payload := appendString(nil, p.Sender)
	payload = appendString(payload, p.Text)
	return Packet{Category: catChat, Code: codeRoomMessage, Payload: payload}
}

func decodeChat(p Packet) (ChatPacket, error) {
	r := &payloadReader{buf: p.Payload}
	out := ChatPacket{Sender: r.string(), Text: r.string()}
	return out, r.err
}

// WhisperPacket is a private message between two accounts.
type WhisperPacket struct {
	Sender    string
	Recipient string
	Text      string
}

func (p WhisperPacket) packet() Packet {
	payload := appendString(nil, p.Sender)
	payload = appendString(payload, p.Recipient)
	payload = appendString(payload, p.Text)
	return Packet{Category: catChat, Code: codeWhisper, Payload: payload}
}

func decodeWhisper(p Packet) (WhisperPacket, error) {
	r := &payloadReader{buf: p.Payload}
	out := WhisperPacket{Sender: r.string(), Recipient: r.string(), Text: r.string()}
	return out, r.err
}

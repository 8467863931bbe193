package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

var ErrUnsupportedFrame = errors.New("unsupported frame type")
var ErrBadHello = errors.New("bad hello")

const maxFrameSize = 64 << 10

// Hello is the first frame each side sends on a new link.
type Hello struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
}

// Link is one established peer connection. Reads and writes carry opaque
// text payloads; the hello handshake has already completed.
type Link struct {
	conn      *websocket.Conn
	Remote    Hello
	Initiated bool // true when we dialed
}

// DialLink invites a peer: connect, send our hello, wait for theirs.
func DialLink(ctx context.Context, url string, self Hello) (*Link, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)

	if err := wsjson.Write(ctx, conn, self); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	remote, err := readHello(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return nil, err
	}
	return &Link{conn: conn, Remote: remote, Initiated: true}, nil
}

// AcceptLink takes an inbound invitation. Every invitation is accepted.
func AcceptLink(w http.ResponseWriter, r *http.Request, self Hello, handshakeTimeout time.Duration) (*Link, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// peers are not browsers; there is no origin to check
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithTimeout(r.Context(), handshakeTimeout)
	defer cancel()

	remote, err := readHello(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return nil, err
	}
	if err := wsjson.Write(ctx, conn, self); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	return &Link{conn: conn, Remote: remote}, nil
}

func readHello(ctx context.Context, conn *websocket.Conn) (Hello, error) {
	var h Hello
	if err := wsjson.Read(ctx, conn, &h); err != nil {
		return Hello{}, fmt.Errorf("%w: %v", ErrBadHello, err)
	}
	if h.PeerID == "" {
		return Hello{}, fmt.Errorf("%w: empty peer id", ErrBadHello)
	}
	return h, nil
}

// Read returns the next payload. Binary frames are not part of the protocol
// and fail the link with ErrUnsupportedFrame.
func (l *Link) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := l.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		l.conn.Close(websocket.StatusPolicyViolation, "text frames only")
		return nil, ErrUnsupportedFrame
	}
	return data, nil
}

func (l *Link) Write(ctx context.Context, payload []byte) error {
	return l.conn.Write(ctx, websocket.MessageText, payload)
}

func (l *Link) Close(reason string) error {
	return l.conn.Close(websocket.StatusNormalClosure, reason)
}

// IsNormalClose reports whether err is the peer going away cleanly.
func IsNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

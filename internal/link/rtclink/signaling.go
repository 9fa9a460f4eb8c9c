package rtclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/txbeam/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errRefused = errors.New("peripheral refused")

// dial opens a signaling WebSocket to url.
func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// wsWriter serializes writes to one WebSocket; ICE candidates are trickled
// from pion's goroutines while the exchange is writing SDP.
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsWriter) send(msg message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

// negotiate runs the SDP/ICE exchange for p over conn and blocks until the
// DataChannel opens. The offering side sends the first description. conn is
// closed once the channel is open or the exchange fails.
func negotiate(ctx context.Context, conn *websocket.Conn, p *peer, offer bool) error {
	defer conn.Close()
	w := &wsWriter{conn: conn}

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		if err := w.send(message{Type: msgCandidate, Candidate: string(data)}); err != nil {
			select {
			case <-p.opened:
			default:
				util.LogDebug("send candidate: %v", err)
			}
		}
	})

	if offer {
		sdp, err := p.pc.CreateOffer(nil)
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := p.pc.SetLocalDescription(sdp); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		if err := w.send(message{Type: msgOffer, SDP: sdp.SDP}); err != nil {
			return fmt.Errorf("send offer: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			var msg message
			if err := conn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			if err := apply(p, w, msg); err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case <-p.opened:
		util.LogDebug("DataChannel established, closing signaling socket")
		return nil
	case err := <-errCh:
		// The socket may have been closed by the other side right after open.
		select {
		case <-p.opened:
			return nil
		default:
			return fmt.Errorf("signaling: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply handles one inbound signaling message.
func apply(p *peer, w *wsWriter, msg message) error {
	switch msg.Type {
	case msgOffer:
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		return w.send(message{Type: msgAnswer, SDP: answer.SDP})

	case msgAnswer:
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}

	case msgCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
			util.LogDebug("bad ICE candidate: %v", err)
			return nil
		}
		if err := p.pc.AddICECandidate(init); err != nil {
			util.LogDebug("AddICECandidate: %v", err)
		}

	case msgError:
		return fmt.Errorf("%w: %s", errRefused, msg.Error)
	}
	return nil
}

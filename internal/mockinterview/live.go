package mockinterview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/okian/bluffmeter/internal/adapters/http/ws"
	"github.com/okian/bluffmeter/internal/domain/model"
)

const writeTimeout = 5 * time.Second

// liveConn is the client end of /sessions/{id}/live. A background reader
// prints and records every server frame.
type liveConn struct {
	conn    *websocket.Conn
	out     io.Writer
	verbose bool

	mu       sync.Mutex
	report   *Report
	statuses chan model.Status
	readErr  error
	done     chan struct{}
}

func liveURL(baseURL, sessionID string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/sessions/" + sessionID + "/live"
}

func dialLive(ctx context.Context, baseURL, sessionID string, out io.Writer, verbose bool, report *Report) (*liveConn, error) {
	conn, _, err := websocket.Dial(ctx, liveURL(baseURL, sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("dial live socket: %w", err)
	}
	l := &liveConn{
		conn:     conn,
		out:      out,
		verbose:  verbose,
		report:   report,
		statuses: make(chan model.Status, 16),
		done:     make(chan struct{}),
	}
	go l.read(ctx)
	return l, nil
}

func (l *liveConn) send(ctx context.Context, f ws.InFrame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, l.conn, f); err != nil {
		return fmt.Errorf("send %s frame: %w", f.Type, err)
	}
	return nil
}

func (l *liveConn) read(ctx context.Context) {
	defer close(l.done)
	defer close(l.statuses)
	for {
		var f ws.OutFrame
		if err := wsjson.Read(ctx, l.conn, &f); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				l.mu.Lock()
				l.readErr = err
				l.mu.Unlock()
			}
			return
		}
		l.handle(f)
	}
}

func (l *liveConn) handle(f ws.OutFrame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch f.Type {
	case ws.FrameAnalysis:
		l.report.Analyses++
		l.report.coverageLogs = append(l.report.coverageLogs, f.Coverage)
		score := 0
		if f.BluffScore != nil {
			score = *f.BluffScore
		}
		fmt.Fprintf(l.out, "analysis  score=%3d %-15s tone=%-10s changed=%s\n",
			score, f.Label, f.Tone, conceptList(f.Changed))
		if f.FollowUp != "" {
			fmt.Fprintf(l.out, "          follow-up: %s\n", f.FollowUp)
		}
	case ws.FrameContextualUpdate:
		l.report.Steering++
		fmt.Fprintf(l.out, "steering  %s\n", f.Instruction)
	case ws.FrameStatus:
		if l.verbose {
			fmt.Fprintf(l.out, "status    %s %s\n", f.Status, f.Reason)
		}
		select {
		case l.statuses <- f.Status:
		default:
		}
	case ws.FrameAck:
		l.report.Acks++
		if l.verbose {
			fmt.Fprintf(l.out, "ack       %s duplicate=%t\n", f.MessageID, f.Duplicate)
		}
	case ws.FrameError:
		fmt.Fprintf(l.out, "error     %s: %s\n", f.Code, f.Message)
	default:
		if l.verbose {
			fmt.Fprintf(l.out, "%-9s\n", f.Type)
		}
	}
}

// waitStatus blocks until the server reports want.
func (l *liveConn) waitStatus(ctx context.Context, want model.Status) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", want, ctx.Err())
		case st, ok := <-l.statuses:
			if !ok {
				return fmt.Errorf("waiting for %s: %w", want, l.err())
			}
			if st == want {
				return nil
			}
			if st.Terminal() {
				return fmt.Errorf("waiting for %s: session became %s", want, st)
			}
		}
	}
}

// wait blocks until the server closes the socket. A normal closure is not
// an error.
func (l *liveConn) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readErr
}

func (l *liveConn) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr == nil {
		return errors.New("live socket closed")
	}
	return l.readErr
}

func (l *liveConn) close() {
	_ = l.conn.CloseNow()
}

func conceptList(cs []model.ConceptCoverage) string {
	if len(cs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.Concept+":"+string(c.Status))
	}
	return strings.Join(parts, ",")
}

package mockinterview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/okian/bluffmeter/internal/adapters/http/ws"
	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/pkg/logger"
)

// Defaults for fields left zero in Config.
const (
	DefaultGap     = 300 * time.Millisecond
	DefaultPause   = 3 * time.Second
	DefaultSettle  = 5 * time.Second
	DefaultTimeout = 10 * time.Second
)

// ErrVerification is returned when the stored session breaks an expectation.
var ErrVerification = errors.New("verification failed")

// syncWriter serializes writes from the socket reader and the script player.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (c *Config) withDefaults() {
	if c.Gap <= 0 {
		c.Gap = DefaultGap
	}
	if c.Pause <= 0 {
		c.Pause = DefaultPause
	}
	if c.Settle <= 0 {
		c.Settle = DefaultSettle
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if len(c.Script) == 0 {
		c.Script = DefaultScript()
	}
}

// Run executes one mock interview and verifies the stored record.
func Run(ctx context.Context, cfg Config, out io.Writer) (*Report, error) {
	cfg.withDefaults()
	out = &syncWriter{w: out}
	log := logger.Get().Named("mock-interview")
	report := &Report{StartedAt: time.Now()}

	log.Info(ctx, "starting mock interview",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("candidate", cfg.CandidateID),
		logger.String("topic", cfg.TopicID),
		logger.Int("fragments", cfg.Script.Fragments()))

	client := NewClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Open the session
	sess, err := client.StartSession(ctx, cfg.CandidateID, cfg.TopicID, cfg.Difficulty)
	if err != nil {
		return nil, err
	}
	report.SessionID = sess.ID
	fmt.Fprintf(out, "session   %s topic=%q difficulty=%s\n", sess.ID, sess.TopicTitle, sess.Difficulty)

	// Step 3: Go live
	live, err := dialLive(ctx, cfg.BaseURL, sess.ID, out, cfg.Verbose, report)
	if err != nil {
		return nil, err
	}
	defer live.close()

	if err := live.send(ctx, ws.InFrame{Type: ws.FrameConnect}); err != nil {
		return nil, err
	}
	if err := live.waitStatus(ctx, model.StatusActive); err != nil {
		return nil, err
	}

	// Step 4: Replay the conversation
	if err := play(ctx, live, cfg, out); err != nil {
		return nil, err
	}

	// Step 5: Let the last answer be analyzed, then end
	if err := sleep(ctx, cfg.Settle); err != nil {
		return nil, err
	}
	if err := live.send(ctx, ws.InFrame{Type: ws.FrameEnd}); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := live.wait(waitCtx); err != nil {
		log.Warn(ctx, "live socket did not close cleanly", logger.Error(err))
	}
	live.close()
	<-live.done

	// Step 6: Verify what was stored
	stored, summary, err := client.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	report.Status = stored.Status
	report.Samples = len(stored.BluffHistory)
	report.FinalScore = stored.FinalBluffScore
	report.Summary = summary
	report.Coverage = stored.ConceptCoverage
	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	displayReport(out, report)
	if err := verify(report); err != nil {
		return report, err
	}

	if entry, err := client.Rank(ctx, cfg.CandidateID); err == nil {
		fmt.Fprintf(out, "rank      #%d average=%.1f sessions=%d\n", entry.Rank, entry.AverageScore, entry.Sessions)
	} else {
		log.Warn(ctx, "rank lookup failed", logger.Error(err))
	}

	log.Info(ctx, "mock interview completed",
		logger.String("session", report.SessionID),
		logger.Int("analyses", report.Analyses),
		logger.Duration("duration", report.Duration))
	return report, nil
}

func play(ctx context.Context, live *liveConn, cfg Config, out io.Writer) error {
	seq := 0
	for _, turn := range cfg.Script {
		for i, text := range turn.Fragments {
			seq++
			if turn.Role == model.RoleAgent {
				fmt.Fprintf(out, "agent     %s\n", text)
			} else if cfg.Verbose {
				fmt.Fprintf(out, "candidate %s\n", text)
			}
			frame := ws.InFrame{Type: ws.FrameMessage, ID: "m-" + strconv.Itoa(seq), Role: turn.Role, Text: text}
			if err := live.send(ctx, frame); err != nil {
				return err
			}
			if i < len(turn.Fragments)-1 {
				if err := sleep(ctx, cfg.Gap); err != nil {
					return err
				}
			}
		}
		if turn.Role == model.RoleUser {
			if err := sleep(ctx, cfg.Pause); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

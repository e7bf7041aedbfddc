package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kaputi/kaputi-backend/internal/cues"
	"github.com/kaputi/kaputi-backend/internal/engine"
	"github.com/kaputi/kaputi-backend/internal/leaderboard"
)

var eventCues = map[engine.EventType]cues.Cue{
	engine.EvtTurnStarted:   cues.TurnStart,
	engine.EvtTimerExpired:  cues.TimerExpired,
	engine.EvtGameStarted:   cues.GameStart,
	engine.EvtCardPlayed:    cues.CardPlay,
	engine.EvtCardRemoved:   cues.CardPickup,
	engine.EvtVoteCast:      cues.VoteSubmit,
	engine.EvtPlayerJoined:  cues.PlayerJoin,
	engine.EvtTopicSelected: cues.TopicSelect,
}

// react turns engine events into side effects: cues, logs and the final
// leaderboard write. None of them can fail the command.
func (s *Session) react(events []engine.Event, now time.Time) {
	for _, e := range events {
		if cue, ok := eventCues[e.Type]; ok {
			s.opts.Cues.Dispatch(s.code, cue)
		}

		switch e.Type {
		case engine.EvtTurnResolved:
			cue := cues.VoteRejected
			if e.Approved {
				cue = cues.VoteApproved
			}
			s.opts.Cues.Dispatch(s.code, cue)
			s.log.Info("turn resolved",
				zap.Int("turn", e.TurnNumber),
				zap.String("player", e.PlayerID),
				zap.Bool("approved", e.Approved),
				zap.Int("award", e.Award))
		case engine.EvtGameStarted:
			s.log.Info("game started", zap.Int("players", len(s.state.Players)))
		case engine.EvtTurnHeld, engine.EvtTurnResumed, engine.EvtTurnForfeited, engine.EvtPlayerRemoved:
			s.log.Info("turn state", zap.String("event", string(e.Type)), zap.String("player", e.PlayerID))
		case engine.EvtGameFinished:
			s.log.Info("game finished", zap.Int("round", s.state.Round))
			s.record(now)
		default:
			s.log.Debug("event", zap.String("event", string(e.Type)), zap.String("player", e.PlayerID))
		}
	}
}

func (s *Session) record(now time.Time) {
	if s.opts.Leaderboard == nil {
		return
	}
	entries := make([]leaderboard.Entry, 0, len(s.state.Players))
	for _, p := range s.state.Players {
		entries = append(entries, leaderboard.Entry{
			Initials:   leaderboard.Initials(p.Name),
			FinalScore: p.Score,
			Timestamp:  now,
		})
	}

	sink, log, code := s.opts.Leaderboard, s.log, s.code
	go func() {
		ctx, cancel := context.WithTimeout(leaderboard.WithRoom(context.Background(), code), 5*time.Second)
		defer cancel()
		if err := sink.Record(ctx, entries); err != nil {
			log.Warn("leaderboard write failed", zap.Error(err))
		}
	}()
}

// tickCue paces the countdown sound while the active player is building.
func (s *Session) tickCue() {
	t := s.state.Turn
	if s.state.Phase != engine.PhaseStarted || t == nil || t.Held || t.Phase != engine.TurnPlaying {
		return
	}
	left := s.state.TimeRemaining(s.now())
	if left <= 0 {
		return
	}
	if left <= s.opts.UrgentBelow {
		s.opts.Cues.Dispatch(s.code, cues.TimerUrgent)
		return
	}
	s.opts.Cues.Dispatch(s.code, cues.TimerTick)
}

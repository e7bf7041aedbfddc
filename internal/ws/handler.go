package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaputi/kaputi-backend/internal/engine"
	"github.com/kaputi/kaputi-backend/internal/registry"
	"github.com/kaputi/kaputi-backend/internal/session"
	"github.com/kaputi/kaputi-backend/pkg/types"
)

type Options struct {
	// OriginPatterns is passed to websocket.Accept; empty means same-origin only.
	OriginPatterns []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	Logger         *zap.Logger
}

func Handler(reg *registry.Registry, opts Options) http.HandlerFunc {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		playerID := r.URL.Query().Get("player_id")
		if code == "" || playerID == "" {
			http.Error(w, "missing code or player_id", http.StatusBadRequest)
			return
		}

		s, err := reg.Lookup(r.Context(), code)
		if err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		connID := uuid.NewString()
		log := opts.Logger.With(zap.String("room", code), zap.String("player", playerID), zap.String("conn", connID))

		out := make(chan types.ServerMessage, 16)
		if err := s.AttachConn(r.Context(), playerID, connID, out); err != nil {
			log.Info("attach refused", zap.Error(err))
			writeJSON(r.Context(), conn, opts.WriteTimeout, errorMessage(err))
			conn.Close(websocket.StatusPolicyViolation, engine.CodeOf(err))
			return
		}
		defer s.Send(session.Detach{ConnID: connID})
		log.Debug("client connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine
		go func() {
			ping := time.NewTicker(opts.PingInterval)
			defer ping.Stop()
			for {
				select {
				case msg, ok := <-out:
					if !ok {
						// The room dropped us or closed.
						conn.Close(websocket.StatusNormalClosure, "bye")
						cancel()
						return
					}
					if err := writeJSON(ctx, conn, opts.WriteTimeout, msg); err != nil {
						cancel()
						return
					}
				case <-ping.C:
					pctx, pcancel := context.WithTimeout(ctx, opts.WriteTimeout)
					err := conn.Ping(pctx)
					pcancel()
					if err != nil {
						log.Debug("ping failed", zap.Error(err))
						cancel()
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeJSON(ctx, conn, opts.WriteTimeout, errorMessage(engine.ErrUnsupportedCommand))
				continue
			}

			cmd, ok := ToCommand(cm)
			if !ok {
				writeJSON(ctx, conn, opts.WriteTimeout, errorMessage(engine.ErrUnsupportedCommand))
				continue
			}

			if !s.Send(session.FromClient{ConnID: connID, Cmd: cmd}) {
				return
			}
		}
	}
}

// ToCommand maps a wire message onto an engine command. The player is
// filled in by the session from the connection.
func ToCommand(m types.ClientMessage) (engine.Command, bool) {
	switch m.Type {
	case types.MsgSetReady:
		return engine.Command{Type: engine.CmdSetReady, Ready: m.Ready}, true
	case types.MsgStartGame:
		return engine.Command{Type: engine.CmdStartGame}, true
	case types.MsgSelectTopic:
		return engine.Command{Type: engine.CmdSelectTopic, Topic: m.Topic}, true
	case types.MsgCreateSlot:
		return engine.Command{Type: engine.CmdCreateSlot, Role: m.Role}, true
	case types.MsgPlayCard:
		return engine.Command{Type: engine.CmdPlayCard, Slot: m.Slot, CardID: m.CardID}, true
	case types.MsgUndoLastCard:
		return engine.Command{Type: engine.CmdUndoLastCard}, true
	case types.MsgSubmitTurn:
		return engine.Command{Type: engine.CmdSubmitTurn, Translation: m.Translation}, true
	case types.MsgPassTurn:
		return engine.Command{Type: engine.CmdPassTurn}, true
	case types.MsgVote:
		return engine.Command{
			Type:       engine.CmdVote,
			TurnNumber: m.TurnNumber,
			Approve:    m.Approve,
			Rationale:  m.Rationale,
		}, true
	case types.MsgConfirmTurnEnd:
		return engine.Command{Type: engine.CmdConfirmTurnEnd}, true
	case types.MsgSetAway:
		status := engine.StatusConnected
		if m.Away {
			status = engine.StatusAway
		}
		return engine.Command{Type: engine.CmdSetStatus, Status: status}, true
	case types.MsgLeaveRoom:
		return engine.Command{Type: engine.CmdLeave}, true
	case types.MsgCloseRoom:
		return engine.Command{Type: engine.CmdCloseRoom}, true
	default:
		return engine.Command{}, false
	}
}

func errorMessage(err error) types.ServerMessage {
	return types.ServerMessage{
		Type: types.MsgError,
		Error: &types.ErrorBody{
			Code:    engine.CodeOf(err),
			Kind:    string(engine.KindOf(err)),
			Message: err.Error(),
		},
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, timeout time.Duration, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

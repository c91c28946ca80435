package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"attempt-engine/internal/app"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSHandler is the UI gateway: one websocket per caller view of an attempt.
type WSHandler struct {
	engine   *app.Engine
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine) *WSHandler {
	return &WSHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type selectPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type answerPayload struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds"`
}

type startedPayload struct {
	Quiz     any          `json:"quiz"`
	Snapshot app.Snapshot `json:"snapshot"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and attaches them to the
// caller's attempt session. Closing the socket releases the session without
// submitting.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	if quizID == "" || userID == "" {
		http.Error(w, "missing quizId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	session, err := h.engine.Start(r.Context(), quizID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer session.Release()

	updates, cancel := session.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("session", session.Key()).Msg("ws write error")
				return
			}
		}
	}()

	emit := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		}
	}

	// The first snapshot arrives with the started message; later ones stream.
	first, ok := <-updates
	if !ok {
		return
	}
	send <- outboundMessage[any]{Type: "started", Payload: startedPayload{Quiz: session.Quiz().Public(), Snapshot: first}}

	go func() {
		defer close(updatesDone)
		resultSent := false
		if first.Result != nil {
			resultSent = emit(outboundMessage[any]{Type: "result", Payload: first.Result})
		}
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if !emit(outboundMessage[any]{Type: "snapshot", Payload: update}) {
					return
				}
				if update.Result != nil && !resultSent {
					resultSent = emit(outboundMessage[any]{Type: "result", Payload: update.Result})
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(r, session, inbound); err != nil {
			if !emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}) {
				break
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, session *app.Session, inbound inboundMessage) error {
	switch inbound.Type {
	case "select":
		var payload selectPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fmt.Errorf("invalid select payload: %w", err)
		}
		return session.SelectOption(payload.QuestionID, payload.OptionID)
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fmt.Errorf("invalid answer payload: %w", err)
		}
		return session.ChangeAnswer(payload.QuestionID, payload.OptionIDs)
	case "save":
		session.SaveProgress()
		return nil
	case "submit":
		// The result reaches the socket through the snapshot stream.
		_, err := session.Submit(r.Context())
		return err
	default:
		return fmt.Errorf("unsupported message type %q", inbound.Type)
	}
}

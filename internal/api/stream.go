package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/service"
)

// StageEvent is one pipeline state transition pushed to stream subscribers
type StageEvent struct {
	RequestID string               `json:"request_id"`
	State     domain.PipelineState `json:"state"`
	Time      time.Time            `json:"time"`
}

// StreamHub fans pipeline progress events out to websocket subscribers.
// Slow subscribers are dropped rather than allowed to block the pipeline.
type StreamHub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	upgrader    websocket.Upgrader
	logger      *logrus.Logger
}

type subscriber struct {
	conn   *websocket.Conn
	events chan StageEvent
}

const subscriberBuffer = 16

// NewStreamHub creates a new progress stream hub
func NewStreamHub(logger *logrus.Logger) *StreamHub {
	return &StreamHub{
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the documentation UI's origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Publish delivers a state transition to all subscribers without blocking.
// Satisfies service.ProgressFunc when bound as hub.Publish.
func (h *StreamHub) Publish(requestID string, state domain.PipelineState) {
	event := StageEvent{
		RequestID: requestID,
		State:     state,
		Time:      time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			// Subscriber is not draining; disconnect it.
			delete(h.subscribers, sub)
			close(sub.events)
		}
	}
}

// runResultMessage is the terminal frame of a streamed run: the full result
// on success, an error string otherwise.
type runResultMessage struct {
	RequestID string                    `json:"request_id,omitempty"`
	Result    *domain.PipelineRunResult `json:"result,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// handleStreamRun upgrades the request to a websocket, reads run parameters
// as the first client frame, executes the pipeline, writes one StageEvent per
// state transition and finishes with a runResultMessage.
func (s *Server) handleStreamRun(c *gin.Context) {
	conn, err := s.stream.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to upgrade stream connection")
		return
	}
	defer conn.Close()

	var params service.RunParams
	if err := conn.ReadJSON(&params); err != nil {
		conn.WriteJSON(runResultMessage{Error: "invalid run parameters: " + err.Error()})
		return
	}

	events := make(chan StageEvent, subscriberBuffer)
	progress := func(requestID string, state domain.PipelineState) {
		select {
		case events <- StageEvent{RequestID: requestID, State: state, Time: time.Now().UTC()}:
		default:
		}
	}

	type outcome struct {
		result *domain.PipelineRunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.pipeline.RunWithProgress(c.Request.Context(), params, progress)
		done <- outcome{result, err}
	}()

	for {
		select {
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case out := <-done:
			s.drainEvents(conn, events)
			final := runResultMessage{Result: out.result}
			if out.result != nil {
				final.RequestID = out.result.RequestID
			}
			if out.err != nil {
				final.Error = out.err.Error()
			}
			conn.WriteJSON(final)
			return
		}
	}
}

// drainEvents flushes transitions still buffered when the run finishes so the
// terminal frame is always last.
func (s *Server) drainEvents(conn *websocket.Conn, events chan StageEvent) {
	for {
		select {
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		default:
			return
		}
	}
}

// HandleConnection upgrades the request to a websocket and streams every
// run's stage events until the client disconnects
func (h *StreamHub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade stream connection")
		return
	}

	sub := &subscriber{
		conn:   conn,
		events: make(chan StageEvent, subscriberBuffer),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.WithField("remote", conn.RemoteAddr().String()).Debug("Stream subscriber connected")

	go h.writeLoop(sub)
	h.readLoop(sub)
}

func (h *StreamHub) writeLoop(sub *subscriber) {
	for event := range sub.events {
		if err := sub.conn.WriteJSON(event); err != nil {
			h.remove(sub)
			return
		}
	}
	sub.conn.Close()
}

// readLoop discards inbound messages and detects disconnects
func (h *StreamHub) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.remove(sub)
			return
		}
	}
}

func (h *StreamHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.events)
	}
	sub.conn.Close()
}

// Close disconnects all subscribers
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.events)
		sub.conn.Close()
	}
}

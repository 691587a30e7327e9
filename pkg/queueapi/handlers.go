package queueapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/queue"
)

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Wrap(apierr.KindValidation, "malformed request body", err)
	}
	return nil
}

type writeLocalRequest struct {
	Topic   string `json:"topic"`
	Content []byte `json:"content"`
}

// writeLocal signs content under this node's own identity and appends it
// to topic, depending on topic's current tips.
func (s *Server) writeLocal(w http.ResponseWriter, r *http.Request) {
	var req writeLocalRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	m, err := s.store.Enqueue(req.Topic, req.Content, nil)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, m)
}

type writeOpRequest struct {
	Topic   string        `json:"topic"`
	Message queue.Message `json:"message"`
}

// writeOp accepts a message already signed by its true author, as
// broadcast by a peer's Broadcaster.BroadcastMessage.
func (s *Server) writeOp(w http.ResponseWriter, r *http.Request) {
	var req writeOpRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := s.store.ApplyForeign(req.Topic, req.Message); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, nil)
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.Read(r.PathValue("topic"))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, msgs)
}

func (s *Server) readN(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.KindValidation, "n must be an integer"))
		return
	}
	msgs, err := s.store.ReadN(r.PathValue("topic"), n)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, msgs)
}

func (s *Server) readAfter(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("idx"))
	if err != nil {
		apierr.WriteError(w, apierr.New(apierr.KindValidation, "idx must be an integer"))
		return
	}
	msgs, err := s.store.ReadAfter(r.PathValue("topic"), idx)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, msgs)
}

// dump returns every topic's full message set, for a joining replica to
// seed from before it starts tailing /queue/write_op broadcasts.
func (s *Server) dump(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.Dump())
}

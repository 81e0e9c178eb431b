// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/observatory/lib/codec"
	"github.com/openclaw/observatory/schema"
)

// pushBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind drops frames and detects it by the seq gap.
const pushBuffer = 16

// PushFrame is one change notification on the push stream, encoded as
// a self-delimiting CBOR item. Subscriber identifies this stream in
// logs; Seq is the notifier's global sequence.
type PushFrame struct {
	Subscriber string      `json:"subscriber"`
	Seq        uint64      `json:"seq"`
	Time       time.Time   `json:"time"`
	Agents     []string    `json:"agents,omitempty"`
	Events     int         `json:"events"`
	Mode       schema.Mode `json:"mode"`
}

// handlePush streams CBOR frames until the client goes away or the
// notifier closes. The first write commits the 200 header immediately
// so the subscriber knows it is attached before the first change.
func (api *API) handlePush(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	subscriber := uuid.NewString()
	pushes, cancel := api.notifier.Subscribe(pushBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	api.logger.Debug("push subscriber attached", "subscriber", subscriber)

	for {
		select {
		case <-r.Context().Done():
			api.logger.Debug("push subscriber detached", "subscriber", subscriber)
			return
		case notification, open := <-pushes:
			if !open {
				return
			}
			frame := PushFrame{
				Subscriber: subscriber,
				Seq:        notification.Seq,
				Time:       notification.Time,
				Agents:     notification.Agents,
				Events:     notification.Events,
				Mode:       notification.Mode,
			}
			data, err := codec.Marshal(frame)
			if err != nil {
				api.logger.Error("push frame encode failed", "error", err)
				return
			}
			if _, err := w.Write(data); err != nil {
				api.logger.Debug("push subscriber write failed",
					"subscriber", subscriber, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

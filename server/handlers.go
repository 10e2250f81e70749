package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"tlsn-notary/proof"
	"tlsn-notary/proofverifier"
	"tlsn-notary/transcript"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// VerifyResponse is the /verify success body. Sent and Received are strings
// with ?encoding=text and base64 otherwise.
type VerifyResponse struct {
	SessionID  string      `json:"session_id"`
	ServerName string      `json:"server_name"`
	Time       time.Time   `json:"time"`
	Sent       interface{} `json:"sent"`
	Received   interface{} `json:"received"`
	Receipt    string      `json:"receipt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

type wsVerdict struct {
	OK     bool            `json:"ok"`
	Result *VerifyResponse `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Stage  string          `json:"stage,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	if s.proofs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no target configured"})
		return
	}

	p, err := s.proofs.Get(r.Context())
	if err != nil {
		s.logRequest(r).Error("Proof request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	data, err := proof.Marshal(p)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("encoding") == "text"

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, proof.MaxEncodedSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "proof too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	resp, status, errResp := s.verify(body, text)
	if errResp != nil {
		s.logRequest(r).Info("Proof rejected", zap.Int("status", status), zap.String("error", errResp.Error))
		writeJSON(w, status, errResp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// verify runs one proof through the verifier and maps the outcome to an HTTP
// status: verification errors are the client's, everything else is ours.
func (s *Server) verify(data []byte, text bool) (*VerifyResponse, int, *errorResponse) {
	timer := prometheus.NewTimer(s.metrics.VerifyDuration)
	revealed, err := s.verifier.VerifyJSON(data, s.key)
	timer.ObserveDuration()

	if err != nil {
		var verr *proofverifier.Error
		if errors.As(err, &verr) {
			s.metrics.VerificationsTotal.WithLabelValues("rejected").Inc()
			return nil, http.StatusBadRequest, &errorResponse{Error: err.Error(), Stage: verr.Stage}
		}
		s.metrics.VerificationsTotal.WithLabelValues("error").Inc()
		return nil, http.StatusInternalServerError, &errorResponse{Error: "internal verification failure"}
	}

	resp := &VerifyResponse{
		SessionID:  revealed.SessionID,
		ServerName: revealed.ServerName,
		Time:       revealed.Time,
		Sent:       revealed.Sent,
		Received:   revealed.Received,
	}
	if text {
		sent, err := revealed.Text(transcript.Sent)
		if err != nil {
			s.metrics.VerificationsTotal.WithLabelValues("not_utf8").Inc()
			return nil, http.StatusUnprocessableEntity, &errorResponse{Error: err.Error()}
		}
		received, err := revealed.Text(transcript.Received)
		if err != nil {
			s.metrics.VerificationsTotal.WithLabelValues("not_utf8").Inc()
			return nil, http.StatusUnprocessableEntity, &errorResponse{Error: err.Error()}
		}
		resp.Sent, resp.Received = sent, received
	}

	if s.receipts != nil {
		token, err := s.receipts.Issue(revealed)
		if err != nil {
			s.logger.Critical("Failed to issue receipt", zap.String("session_id", revealed.SessionID), zap.Error(err))
			s.metrics.VerificationsTotal.WithLabelValues("error").Inc()
			return nil, http.StatusInternalServerError, &errorResponse{Error: "failed to issue receipt"}
		}
		resp.Receipt = token
	}

	s.metrics.VerificationsTotal.WithLabelValues("verified").Inc()
	return resp, http.StatusOK, nil
}

// handleWebSocket verifies each proof frame and answers with one verdict
// frame, in order, until the client closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("encoding") == "text"
	log := s.logRequest(r)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(proof.MaxEncodedSize)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Websocket closed by client")
			} else {
				log.Warn("Websocket read failed", zap.Error(err))
			}
			return
		}

		resp, _, errResp := s.verify(msg, text)
		verdict := wsVerdict{OK: errResp == nil, Result: resp}
		if errResp != nil {
			verdict.Error, verdict.Stage = errResp.Error, errResp.Stage
			s.metrics.WebsocketFrames.WithLabelValues("rejected").Inc()
		} else {
			s.metrics.WebsocketFrames.WithLabelValues("verified").Inc()
		}

		if err := conn.WriteJSON(verdict); err != nil {
			log.Warn("Websocket write failed", zap.Error(err))
			return
		}
	}
}

package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/RowanDark/autodecode/internal/cipher"
	"github.com/RowanDark/autodecode/internal/jsonfix"
	"github.com/RowanDark/autodecode/internal/logging"
)

// TextRequest is the body accepted by every text endpoint.
type TextRequest struct {
	Input string `json:"input"`
}

// TextResponse carries the transformed text.
type TextResponse struct {
	Output string `json:"output"`
}

// DecodeResponse reports the decoded text and how it was reached.
type DecodeResponse struct {
	Output    string         `json:"output"`
	Passes    int            `json:"passes"`
	Converged bool           `json:"converged"`
	Layers    []cipher.Layer `json:"layers"`
	Steps     []cipher.Step  `json:"steps,omitempty"`
}

// DetectResponse lists candidate layers, most likely first.
type DetectResponse struct {
	Detections []cipher.DetectionResult `json:"detections"`
}

// EncodeRequest names the operations to run over Input, in order.
type EncodeRequest struct {
	Input      string   `json:"input"`
	Operations []string `json:"operations"`
}

// EncodeResponse holds the pipeline output. Output that is not valid UTF-8 is
// returned base64 encoded and Encoding is set to "base64".
type EncodeResponse struct {
	Output   string `json:"output"`
	Encoding string `json:"encoding,omitempty"`
}

// OperationInfo describes a registered operation.
type OperationInfo struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Layer       cipher.Layer `json:"layer"`
	Description string       `json:"description"`
	Reversible  bool         `json:"reversible"`
}

func repairText(in string) string { return jsonfix.Repair(in) }

func prettyText(in string) string { return jsonfix.Pretty(in) }

// formatText decodes every layer first, then repairs and pretty-prints.
func formatText(in string) string { return jsonfix.Format(cipher.AutoDecode(in)) }

// readBody enforces the method and size limit and decodes the JSON body into
// dst. It writes the error response itself and reports whether the handler
// should continue.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxInputBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) emitRequest(eventType logging.EventType, requestID, input string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["input_bytes"] = len(input)
	meta["preview"] = logging.Preview(input)
	_ = s.logger.Emit(logging.AuditEvent{
		EventType: eventType,
		Decision:  logging.DecisionAllow,
		RequestID: requestID,
		Metadata:  meta,
	})
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.readBody(w, r, &req) {
		return
	}

	res := cipher.AutoDecodeTrace(req.Input)
	layers := res.Layers()

	requestID := logging.NewRequestID()
	s.emitRequest(logging.EventDecodeRequest, requestID, req.Input, map[string]any{
		"output_bytes": len(res.Output),
		"passes":       res.Passes,
		"converged":    res.Converged,
		"layers":       layers,
	})

	w.Header().Set(RequestIDHeader, requestID)
	s.writeJSON(w, http.StatusOK, DecodeResponse{
		Output:    res.Output,
		Passes:    res.Passes,
		Converged: res.Converged,
		Layers:    layers,
		Steps:     res.Steps,
	})
}

func (s *Server) textHandler(eventType logging.EventType, apply func(string) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TextRequest
		if !s.readBody(w, r, &req) {
			return
		}

		out := apply(req.Input)

		requestID := logging.NewRequestID()
		s.emitRequest(eventType, requestID, req.Input, map[string]any{
			"output_bytes": len(out),
			"changed":      out != req.Input,
		})

		w.Header().Set(RequestIDHeader, requestID)
		s.writeJSON(w, http.StatusOK, TextResponse{Output: out})
	}
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.readBody(w, r, &req) {
		return
	}
	if req.Input == "" {
		http.Error(w, "input field is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	detections, err := cipher.NewSmartDetector().Detect(ctx, []byte(req.Input))
	if err != nil {
		if writeContextError(w, ctx) {
			return
		}
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"detections": []cipher.DetectionResult{},
		})
		return
	}
	if detections == nil {
		detections = []cipher.DetectionResult{}
	}
	s.writeJSON(w, http.StatusOK, DetectResponse{Detections: detections})
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	var req EncodeRequest
	if !s.readBody(w, r, &req) {
		return
	}

	pipeline, err := cipher.ParsePipeline(req.Operations)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	out, err := pipeline.Execute(ctx, []byte(req.Input))
	if err != nil {
		if writeContextError(w, ctx) {
			return
		}
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	if utf8.Valid(out) {
		s.writeJSON(w, http.StatusOK, EncodeResponse{Output: string(out)})
		return
	}
	s.writeJSON(w, http.StatusOK, EncodeResponse{
		Output:   base64.StdEncoding.EncodeToString(out),
		Encoding: "base64",
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ops := cipher.ListOperations()
	list := make([]OperationInfo, 0, len(ops))
	for _, op := range ops {
		_, reversible := op.Reverse()
		list = append(list, OperationInfo{
			Name:        op.Name(),
			Type:        string(op.Type()),
			Layer:       op.Layer(),
			Description: op.Description(),
			Reversible:  reversible,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"operations": list})
}

// writeContextError answers for a cancelled or expired request context and
// reports whether it did.
func writeContextError(w http.ResponseWriter, ctx context.Context) bool {
	switch ctx.Err() {
	case nil:
		return false
	case context.Canceled:
		http.Error(w, "request canceled", http.StatusRequestTimeout)
	default:
		http.Error(w, "request timeout", http.StatusGatewayTimeout)
	}
	return true
}

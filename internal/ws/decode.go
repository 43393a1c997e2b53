package ws

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors. Both are recoverable: the caller logs and drops the message.
var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// maxDimension bounds reported terminal sizes; anything larger is a client bug.
const maxDimension = 10000

// DecodeClient parses and validates a browser → relay message.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeInput:
		var m Input
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: input: %v", ErrMalformed, err)
		}
		return m, nil

	case TypeResize:
		var m Resize
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: resize: %v", ErrMalformed, err)
		}
		if m.Cols <= 0 || m.Rows <= 0 || m.Cols > maxDimension || m.Rows > maxDimension {
			return nil, fmt.Errorf("%w: resize %dx%d out of range", ErrMalformed, m.Cols, m.Rows)
		}
		return m, nil

	case TypeASRStart:
		var m ASRStart
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: asr_start: %v", ErrMalformed, err)
		}
		return m, nil

	case TypeASRAudio:
		var m ASRAudio
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: asr_audio: %v", ErrMalformed, err)
		}
		if m.Audio == "" {
			return nil, fmt.Errorf("%w: asr_audio: empty audio", ErrMalformed)
		}
		if _, err := base64.StdEncoding.DecodeString(m.Audio); err != nil {
			return nil, fmt.Errorf("%w: asr_audio: %v", ErrMalformed, err)
		}
		return m, nil

	case TypeASRStop:
		return ASRStop{Type: TypeASRStop}, nil

	case TypeClaudeProcess:
		var m ClaudeProcess
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: claude_process: %v", ErrMalformed, err)
		}
		return m, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// DecodeBackend parses a backend → relay message. Unknown types are not an
// error; they come back as Unrecognized so they can be forwarded as-is.
func DecodeBackend(data []byte) (BackendMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeASRConnected:
		return Connected{}, nil
	case TypePartialResult:
		var m PartialResult
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: partial_result: %v", ErrMalformed, err)
		}
		return m, nil
	case TypeFinalResult:
		var m FinalResult
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: final_result: %v", ErrMalformed, err)
		}
		return m, nil
	case TypeCorrectionResult:
		var m CorrectionResult
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: correction_result: %v", ErrMalformed, err)
		}
		return m, nil
	case TypeBackendError:
		var m BackendError
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: error: %v", ErrMalformed, err)
		}
		if m.Message == "" {
			m.Message = "transcription backend error"
		}
		return m, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unrecognized{Type: env.Type, Raw: raw}, nil
	}
}

// ForBrowser translates a backend message into the asr_response shape the
// browser expects. Backend errors become ASRError; unknown messages are
// forwarded opaquely.
func ForBrowser(m BackendMessage) ASRResponse {
	var data any
	switch m := m.(type) {
	case Connected:
		data = ASREvent{Type: ASRReady}
	case PartialResult:
		data = ASRPartialText{Type: ASRPartial, Text: m.Text}
	case FinalResult:
		data = ASRTranscript{Type: ASRCompleted, Transcript: m.Text, Text: m.Text}
	case CorrectionResult:
		data = ASRCorrection{Type: ASRCorrected, Original: m.Original, Corrected: m.Corrected}
	case BackendError:
		data = ASRError{Error: m.Message}
	case Unrecognized:
		data = json.RawMessage(m.Raw)
	}
	return ASRResponse{Type: TypeASRResponse, Data: data}
}

// ASRFailure builds an asr_response carrying only an error.
func ASRFailure(msg string) ASRResponse {
	return ASRResponse{Type: TypeASRResponse, Data: ASRError{Error: msg}}
}

// ClaudeText builds one streamed chunk of a correction result.
func ClaudeText(text string) ClaudeResponse {
	return ClaudeResponse{Type: TypeClaudeResponse, Data: ClaudeResponseData{Text: text}}
}

// ClaudeDone terminates a streamed correction result.
func ClaudeDone() ClaudeResponse {
	return ClaudeResponse{Type: TypeClaudeResponse, Data: ClaudeResponseData{Done: true}}
}

// ClaudeFailure reports a correction failure; fallback is the original
// transcript so the browser can keep the uncorrected text.
func ClaudeFailure(msg, fallback string) ClaudeResponse {
	return ClaudeResponse{Type: TypeClaudeResponse, Data: ClaudeResponseData{Error: msg, Fallback: &fallback}}
}

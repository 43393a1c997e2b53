package ws

// Message types for the browser <-> relay WebSocket protocol.
const (
	// Browser → Relay (terminal)
	TypeInput  = "input"
	TypeResize = "resize"

	// Relay → Browser (terminal)
	TypeOutput  = "output"
	TypeHistory = "history"
	TypeExit    = "exit"

	// Browser → Relay (speech)
	TypeASRStart      = "asr_start"
	TypeASRAudio      = "asr_audio"
	TypeASRStop       = "asr_stop"
	TypeClaudeProcess = "claude_process"

	// Relay → Browser (speech)
	TypeASRResponse    = "asr_response"
	TypeClaudeResponse = "claude_response"
)

// Message types for the relay <-> ASR backend connection.
const (
	// Relay → Backend
	TypeStartASR      = "start_asr"
	TypeContextUpdate = "context_update"
	TypeAudioData     = "audio_data"
	TypeStopASR       = "stop_asr"

	// Backend → Relay
	TypeASRConnected     = "asr_connected"
	TypePartialResult    = "partial_result"
	TypeFinalResult      = "final_result"
	TypeCorrectionResult = "correction_result"
	TypeBackendError     = "error"
)

// asr_response data sub-types forwarded to the browser.
const (
	ASRReady     = "asr_ready"
	ASRPartial   = "partial"
	ASRCompleted = "conversation.item.input_audio_transcription.completed"
	ASRCorrected = "correction_result"
)

// Envelope wraps every WebSocket message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// --- Browser → Relay ---

// ClientMessage is a decoded browser → relay message. The set of
// implementations is closed; see DecodeClient.
type ClientMessage interface {
	clientMessage()
}

// Input carries keystrokes from the browser to the PTY.
type Input struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Resize reports the browser's terminal viewport size.
type Resize struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// ASRStart asks the relay to open a transcription session.
type ASRStart struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Context  string `json:"context,omitempty"` // recent terminal text, used as recognition hint
}

// ASRAudio carries one chunk of base64 PCM16 mono 16kHz audio.
type ASRAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ASRStop ends the transcription session gracefully.
type ASRStop struct {
	Type string `json:"type"`
}

// ClaudeProcess requests a standalone correction of a transcript.
type ClaudeProcess struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Context    string `json:"context,omitempty"`
}

func (Input) clientMessage()         {}
func (Resize) clientMessage()        {}
func (ASRStart) clientMessage()      {}
func (ASRAudio) clientMessage()      {}
func (ASRStop) clientMessage()       {}
func (ClaudeProcess) clientMessage() {}

// --- Relay → Browser ---

// Output carries live PTY output.
type Output struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// History replays buffered PTY output to a newly joined browser. The browser
// clears its display before applying it.
type History struct {
	Type string   `json:"type"`
	Data []string `json:"data"`
}

// Exit tells the browser the PTY process exited.
type Exit struct {
	Type string `json:"type"`
	Code int    `json:"code"`
}

// ASRResponse wraps a transcription event. Data is one of ASREvent,
// ASRTranscript, ASRCorrection, ASRError, or a raw backend payload.
type ASRResponse struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ASREvent is a bare typed notification (e.g. asr_ready).
type ASREvent struct {
	Type string `json:"type"`
}

// ASRPartialText is an interim transcript.
type ASRPartialText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ASRTranscript is a final transcript. Transcript and Text carry the same value.
type ASRTranscript struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

// ASRCorrection carries a backend-initiated correction.
type ASRCorrection struct {
	Type      string `json:"type"`
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// ASRError reports a transcription failure.
type ASRError struct {
	Error string `json:"error"`
}

// ClaudeResponse is one element of a streamed correction result.
type ClaudeResponse struct {
	Type string             `json:"type"`
	Data ClaudeResponseData `json:"data"`
}

// ClaudeResponseData is terminated by Done, or replaced by Error with the
// original transcript as Fallback. Fallback is set on every error, even
// for an empty transcript.
type ClaudeResponseData struct {
	Text     string  `json:"text,omitempty"`
	Done     bool    `json:"done,omitempty"`
	Error    string  `json:"error,omitempty"`
	Fallback *string `json:"fallback,omitempty"`
}

// --- Relay → Backend ---

// StartASR initializes a backend transcription session.
type StartASR struct {
	Type   string    `json:"type"`
	Config ASRConfig `json:"config"`
}

// ASRConfig selects language and model on the backend.
type ASRConfig struct {
	Language string `json:"language"`
	Model    string `json:"model,omitempty"`
}

// ContextUpdate sends terminal text to bias recognition and correction.
type ContextUpdate struct {
	Type    string `json:"type"`
	Context string `json:"context"`
}

// AudioData forwards one audio chunk to the backend.
type AudioData struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// StopASR asks the backend to flush and finish.
type StopASR struct {
	Type string `json:"type"`
}

// CorrectionRequest is ClaudeProcess as forwarded to the backend.
type CorrectionRequest struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Context    string `json:"context,omitempty"`
}

// --- Backend → Relay ---

// BackendMessage is a decoded backend → relay message; see DecodeBackend.
type BackendMessage interface {
	backendMessage()
}

// Connected confirms the backend is ready for audio.
type Connected struct{}

// PartialResult is an interim recognition result.
type PartialResult struct {
	Text string `json:"text"`
}

// FinalResult is an authoritative recognition result.
type FinalResult struct {
	Text string `json:"text"`
}

// CorrectionResult carries a corrected transcript.
type CorrectionResult struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// BackendError reports a backend failure.
type BackendError struct {
	Message string `json:"message"`
}

// Unrecognized is any backend message of an unknown type. Raw is the full
// original JSON object, forwarded to the browser unchanged.
type Unrecognized struct {
	Type string
	Raw  []byte
}

func (Connected) backendMessage()        {}
func (PartialResult) backendMessage()    {}
func (FinalResult) backendMessage()      {}
func (CorrectionResult) backendMessage() {}
func (BackendError) backendMessage()     {}
func (Unrecognized) backendMessage()     {}

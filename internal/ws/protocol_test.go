package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeClient(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ClientMessage
	}{
		{"input", `{"type":"input","data":"ls\r"}`, Input{Type: TypeInput, Data: "ls\r"}},
		{"resize", `{"type":"resize","cols":120,"rows":40}`, Resize{Type: TypeResize, Cols: 120, Rows: 40}},
		{"asr start", `{"type":"asr_start","language":"de","context":"$ git"}`, ASRStart{Type: TypeASRStart, Language: "de", Context: "$ git"}},
		{"asr audio", `{"type":"asr_audio","audio":"AAEC"}`, ASRAudio{Type: TypeASRAudio, Audio: "AAEC"}},
		{"asr stop", `{"type":"asr_stop"}`, ASRStop{Type: TypeASRStop}},
		{"claude process", `{"type":"claude_process","transcript":"get status","context":"$"}`, ClaudeProcess{Type: TypeClaudeProcess, Transcript: "get status", Context: "$"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClient([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeClient: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeClientErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `not json`, ErrMalformed},
		{"missing type", `{"data":"x"}`, ErrMalformed},
		{"unknown type", `{"type":"reboot"}`, ErrUnknownType},
		{"zero cols", `{"type":"resize","cols":0,"rows":24}`, ErrMalformed},
		{"negative rows", `{"type":"resize","cols":80,"rows":-1}`, ErrMalformed},
		{"huge size", `{"type":"resize","cols":80000,"rows":24}`, ErrMalformed},
		{"string cols", `{"type":"resize","cols":"80","rows":24}`, ErrMalformed},
		{"empty audio", `{"type":"asr_audio","audio":""}`, ErrMalformed},
		{"bad base64", `{"type":"asr_audio","audio":"!!!"}`, ErrMalformed},
		{"input not string", `{"type":"input","data":42}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClient([]byte(tt.in))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeBackend(t *testing.T) {
	tests := []struct {
		in   string
		want BackendMessage
	}{
		{`{"type":"asr_connected"}`, Connected{}},
		{`{"type":"partial_result","text":"hel"}`, PartialResult{Text: "hel"}},
		{`{"type":"final_result","text":"hello"}`, FinalResult{Text: "hello"}},
		{`{"type":"correction_result","original":"get status","corrected":"git status"}`, CorrectionResult{Original: "get status", Corrected: "git status"}},
		{`{"type":"error","message":"quota"}`, BackendError{Message: "quota"}},
		{`{"type":"error"}`, BackendError{Message: "transcription backend error"}},
	}
	for _, tt := range tests {
		got, err := DecodeBackend([]byte(tt.in))
		if err != nil {
			t.Fatalf("DecodeBackend(%s): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("DecodeBackend(%s) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeBackendUnrecognized(t *testing.T) {
	in := `{"type":"speech_started","at":1.5}`
	got, err := DecodeBackend([]byte(in))
	if err != nil {
		t.Fatalf("DecodeBackend: %v", err)
	}
	u, ok := got.(Unrecognized)
	if !ok {
		t.Fatalf("got %T, want Unrecognized", got)
	}
	if u.Type != "speech_started" || string(u.Raw) != in {
		t.Errorf("got %+v", u)
	}

	if _, err := DecodeBackend([]byte(`[1,2]`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("array: err = %v, want ErrMalformed", err)
	}
}

func TestForBrowserShapes(t *testing.T) {
	tests := []struct {
		in   BackendMessage
		want string
	}{
		{Connected{}, `{"type":"asr_response","data":{"type":"asr_ready"}}`},
		{PartialResult{Text: "hel"}, `{"type":"asr_response","data":{"type":"partial","text":"hel"}}`},
		{FinalResult{Text: "hello"}, `{"type":"asr_response","data":{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello","text":"hello"}}`},
		{CorrectionResult{Original: "a", Corrected: "b"}, `{"type":"asr_response","data":{"type":"correction_result","original":"a","corrected":"b"}}`},
		{BackendError{Message: "boom"}, `{"type":"asr_response","data":{"error":"boom"}}`},
		{Unrecognized{Type: "x", Raw: []byte(`{"type":"x","n":1}`)}, `{"type":"asr_response","data":{"type":"x","n":1}}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(ForBrowser(tt.in))
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(b) != tt.want {
			t.Errorf("ForBrowser(%#v)\n got %s\nwant %s", tt.in, b, tt.want)
		}
	}
}

func TestClaudeResponseShapes(t *testing.T) {
	text, _ := json.Marshal(ClaudeText("git status"))
	if string(text) != `{"type":"claude_response","data":{"text":"git status"}}` {
		t.Errorf("text = %s", text)
	}
	done, _ := json.Marshal(ClaudeDone())
	if string(done) != `{"type":"claude_response","data":{"done":true}}` {
		t.Errorf("done = %s", done)
	}
	fail, _ := json.Marshal(ClaudeFailure("backend down", "get status"))
	if !strings.Contains(string(fail), `"fallback":"get status"`) || !strings.Contains(string(fail), `"error":"backend down"`) {
		t.Errorf("failure = %s", fail)
	}
	empty, _ := json.Marshal(ClaudeFailure("nothing to correct", ""))
	if string(empty) != `{"type":"claude_response","data":{"error":"nothing to correct","fallback":""}}` {
		t.Errorf("failure for empty transcript = %s", empty)
	}
}

package frame

import "strconv"

// Payload is the stable numeric kind of a link message. Codes are never
// reused for a different meaning; 0 is reserved for unrecognized kinds.
type Payload uint64

const (
	PayloadUnknown             Payload = 0
	PayloadHello               Payload = 1
	PayloadHeartbeat           Payload = 2
	PayloadAppModeUpdate       Payload = 3
	PayloadAppActivationState  Payload = 4
	PayloadSpokenSentence      Payload = 5
	PayloadRecordedSpeechChunk Payload = 6
	PayloadRecordedSpeechEnd   Payload = 7
	PayloadTextInitialSnapshot Payload = 8
	PayloadTextDiff            Payload = 9
	PayloadTextInput           Payload = 10
	PayloadButtonTap           Payload = 11
	PayloadToggleListeningMode Payload = 12
	PayloadRequestReset        Payload = 13
	PayloadResponseDone        Payload = 14
)

var payloadNames = map[Payload]string{
	PayloadUnknown:             "unknown",
	PayloadHello:               "hello",
	PayloadHeartbeat:           "heartbeat",
	PayloadAppModeUpdate:       "app_mode_update",
	PayloadAppActivationState:  "app_activation_state",
	PayloadSpokenSentence:      "spoken_sentence",
	PayloadRecordedSpeechChunk: "recorded_speech_chunk",
	PayloadRecordedSpeechEnd:   "recorded_speech_end",
	PayloadTextInitialSnapshot: "text_initial_snapshot",
	PayloadTextDiff:            "text_diff",
	PayloadTextInput:           "text_input",
	PayloadButtonTap:           "button_tap",
	PayloadToggleListeningMode: "toggle_listening_mode",
	PayloadRequestReset:        "request_reset",
	PayloadResponseDone:        "response_done",
}

// PayloadFromCode maps a wire code to a known Payload. Codes outside the
// enumeration map to PayloadUnknown so newer peers stay readable.
func PayloadFromCode(code uint64) Payload {
	p := Payload(code)
	if _, ok := payloadNames[p]; !ok {
		return PayloadUnknown
	}
	return p
}

// Known reports whether p is part of the enumeration and not PayloadUnknown.
func (p Payload) Known() bool {
	_, ok := payloadNames[p]
	return ok && p != PayloadUnknown
}

func (p Payload) String() string {
	if name, ok := payloadNames[p]; ok {
		return name
	}
	return "payload(" + strconv.FormatUint(uint64(p), 10) + ")"
}

// ParsePayload resolves a payload by its String name.
func ParsePayload(name string) (Payload, bool) {
	for p, n := range payloadNames {
		if n == name {
			return p, true
		}
	}
	return PayloadUnknown, false
}

package protocol

import "time"

// TTSRequest asks the daemon to speak text and stream the audio back on
// the bus.
type TTSRequest struct {
	RequestID string `json:"request_id"`
	Target    string `json:"target,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	Language  string `json:"language,omitempty"`
	SSML      bool   `json:"ssml,omitempty"`
}

// AudioChunk carries one slice of synthesized PCM. Chunks for a request
// are ordered by Sequence and the last one has Final set.
type AudioChunk struct {
	RequestID  string `json:"request_id"`
	Target     string `json:"target,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus reports completion or failure of a request.
type TTSStatus struct {
	RequestID string    `json:"request_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest = "tts.request"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"
)

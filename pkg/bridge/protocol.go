package bridge

// Carrier media-stream frames, JSON text over the WebSocket. Client→server:
// start, media, mark, stop. Server→client: media, mark, clear.

const (
	carrierEventStart     = "start"
	carrierEventMedia     = "media"
	carrierEventMark      = "mark"
	carrierEventStop      = "stop"
	carrierEventConnected = "connected"
	carrierEventClear     = "clear"
)

// sessionParameterName is the custom parameter the control document may
// attach to the start frame: a base64-encoded JSON session override blob.
const sessionParameterName = "session"

// commitMarkName asks the bridge to commit the input buffer and create a
// response.
const commitMarkName = "commit"

type carrierFrame struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *carrierStart `json:"start,omitempty"`
	Media     *carrierMedia `json:"media,omitempty"`
	Mark      *carrierMark  `json:"mark,omitempty"`
}

type carrierStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type carrierMedia struct {
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp,omitempty"`
}

type carrierMark struct {
	Name string `json:"name"`
}

type carrierMediaOut struct {
	Event     string            `json:"event"`
	StreamSid string            `json:"streamSid"`
	Media     carrierMediaBody `json:"media"`
}

type carrierMediaBody struct {
	Payload string `json:"payload"`
}

type carrierMarkOut struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      carrierMark `json:"mark"`
}

type carrierClearOut struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

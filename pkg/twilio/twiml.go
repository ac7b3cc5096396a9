package twilio

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// Document modes. The carrier fetches one control document per call and
// follows exactly one of these shapes.
const (
	ModeSIP    = "sip"
	ModeStream = "stream"
	ModeSimple = "simple"
)

const (
	defaultSIPPort      = 5061
	defaultSIPTransport = "tls"
	streamPauseSeconds  = 60
)

type response struct {
	XMLName xml.Name `xml:"Response"`
	Start   *start   `xml:"Start,omitempty"`
	Pause   *pause   `xml:"Pause,omitempty"`
	Dial    *dial    `xml:"Dial,omitempty"`
	Say     string   `xml:"Say,omitempty"`
	Hangup  *hangup  `xml:"Hangup,omitempty"`
}

type start struct {
	Stream stream `xml:"Stream"`
}

type stream struct {
	URL string `xml:"url,attr"`
}

type pause struct {
	Length int `xml:"length,attr"`
}

type dial struct {
	SIP string `xml:"Sip"`
}

type hangup struct{}

// SIPOptions tune the <Dial><Sip> target. Zero values fall back to
// sips-less TLS on the default signaling port.
type SIPOptions struct {
	Scheme    string // "sip" or "sips"
	Transport string // "tls", "tcp", "udp"
	Port      int    // 1..65535
}

// StreamDocument directs the carrier to open a media-stream WebSocket to
// streamURL and keep the call leg alive while audio flows.
func StreamDocument(streamURL string) string {
	return render(response{
		Start: &start{Stream: stream{URL: streamURL}},
		Pause: &pause{Length: streamPauseSeconds},
	})
}

// SIPDocument directs the carrier to bridge the call to the model's SIP
// gateway, carrying the ephemeral credential as the SIP user part.
func SIPDocument(token, gateway string, opts SIPOptions) string {
	scheme := strings.ToLower(strings.TrimSpace(opts.Scheme))
	if scheme != "sip" && scheme != "sips" {
		scheme = "sip"
	}
	transport := strings.ToLower(strings.TrimSpace(opts.Transport))
	switch transport {
	case "tls", "tcp", "udp":
	default:
		transport = defaultSIPTransport
	}
	port := opts.Port
	if port < 1 || port > 65535 {
		port = defaultSIPPort
	}

	uri := fmt.Sprintf("%s:%s@%s:%d", scheme, url.PathEscape(token), gateway, port)
	// sips implies TLS end-to-end; adding a transport parameter on top of it
	// is rejected by some gateways.
	if scheme != "sips" {
		uri += ";transport=" + transport
	}
	return render(response{Dial: &dial{SIP: uri}})
}

// SimpleDocument speaks a static message and hangs up. Used when the bridge
// is not reachable from the deployment.
func SimpleDocument(message string) string {
	return render(response{Say: message, Hangup: &hangup{}})
}

// SpokenError is the fail-closed document: the caller hears the message
// instead of dead air when minting or configuration fails.
func SpokenError(message string) string {
	return render(response{Say: message})
}

// ForbiddenDocument pairs with a 403 status on signature failure.
func ForbiddenDocument() string {
	return render(response{Say: "Forbidden"})
}

func render(doc response) string {
	out, err := xml.Marshal(doc)
	if err != nil {
		// The document structs contain nothing unmarshalable; keep the call
		// speaking even if that ever changes.
		return xml.Header + "<Response><Say>Service unavailable</Say></Response>"
	}
	return xml.Header + string(out)
}

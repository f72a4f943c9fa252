package twilio

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// BridgeTwiML renders the instructions that connect the answered call's media
// stream to a voice-AI session.
func BridgeTwiML(signedURL string) (string, error) {
	if strings.TrimSpace(signedURL) == "" {
		return "", fmt.Errorf("signed url is required")
	}

	stream := &twiml.VoiceStream{Url: signedURL}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return "", fmt.Errorf("failed to render twiml: %w", err)
	}
	return doc, nil
}

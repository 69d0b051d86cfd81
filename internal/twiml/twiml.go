// Package twiml renders the call-control markup consumed by the carrier.
//
// Every rendered document is one of two shapes: a conversation turn
// (play the reply, gather the caller's next utterance, hang up on
// silence) or a terminal goodbye (say something, hang up). The carrier
// always receives HTTP 200 with well-formed XML; anything else would
// leave the live call in an undefined state.
package twiml

import "encoding/xml"

// Document is the carrier's <Response> element. Field order is the
// marshaling order: Play, Gather, then the unconditional fallback Say
// and Hangup that run if the caller never speaks again.
type Document struct {
	XMLName xml.Name `xml:"Response"`
	Play    *Play    `xml:"Play,omitempty"`
	Gather  *Gather  `xml:"Gather,omitempty"`
	Say     *Say     `xml:"Say,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Play fetches and plays an audio URL.
type Play struct {
	URL string `xml:",chardata"`
}

// Say speaks text with the carrier's built-in voice.
type Say struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

// Pause waits silently for the given number of seconds.
type Pause struct {
	Length int `xml:"length,attr"`
}

// Gather listens for speech and posts the transcript to Action.
type Gather struct {
	Input         string `xml:"input,attr"`
	Action        string `xml:"action,attr"`
	Method        string `xml:"method,attr"`
	SpeechTimeout string `xml:"speechTimeout,attr"`
	Say           *Say   `xml:"Say,omitempty"`
	Pause         *Pause `xml:"Pause,omitempty"`
}

// Hangup ends the call.
type Hangup struct{}

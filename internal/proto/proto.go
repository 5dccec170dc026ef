// Package proto defines the newline-delimited text frames understood by the
// chat servers. A frame is a single line of UTF-8 text of the form
// VERB[:field1[:field2...]], with free-form text allowed only in the final
// field.
//
// Split policy: verbs whose final field is free-form text (PRIVATE, RELAY)
// are parsed with a limited split so the text may itself contain colons.
// Verbs with fixed fields (JOIN) are split on every colon and must produce
// exactly the declared number of fields, so those fields may not contain
// colons. MESSAGE and FILE payloads are opaque and never split by the server.
package proto

import "strings"

// Verbs sent by clients of the room servers.
const (
	VerbJoin    = "JOIN"
	VerbMessage = "MESSAGE"
	VerbFile    = "FILE"
	VerbLeave   = "LEAVE"
)

// Verbs emitted by the room servers.
const (
	VerbUserJoin  = "USER_JOIN"
	VerbUserLeave = "USER_LEAVE"
)

// Verbs used on mesh links between room servers.
const (
	VerbServerJoin = "SERVER_JOIN"
	VerbRelay      = "RELAY"
)

// Verbs understood by the private chat server.
const (
	VerbEnterUsername = "ENTER_USERNAME"
	VerbSuccess       = "SUCCESS"
	VerbPrivate       = "PRIVATE"
	VerbSent          = "SENT"
	VerbError         = "ERROR"
	VerbGetUsers      = "GET_USERS"
	VerbUsers         = "USERS"
	VerbDisconnect    = "DISCONNECT"
)

// Frame is one parsed protocol line. Payload holds everything after the
// first colon, verbatim; it is empty for bare verbs like GET_USERS.
type Frame struct {
	Verb    string
	Payload string
}

// Parse splits a line into its verb and payload. The line is assumed to
// already be stripped of its trailing newline.
func Parse(line string) Frame {
	verb, payload, _ := strings.Cut(line, ":")
	return Frame{Verb: verb, Payload: payload}
}

// ExactFields splits the payload on every colon and returns the fields only
// if exactly n were present. Used for fixed-field verbs such as JOIN, whose
// fields may not contain colons.
func (f Frame) ExactFields(n int) ([]string, bool) {
	fields := strings.Split(f.Payload, ":")
	if len(fields) != n {
		return nil, false
	}
	return fields, true
}

// CutPayload splits the payload at its first colon, leaving any further
// colons in the second half. Used for verbs whose final field is free-form
// text, such as PRIVATE and RELAY.
func (f Frame) CutPayload() (string, string, bool) {
	return strings.Cut(f.Payload, ":")
}

// Marshal builds a frame line from a verb and its fields. The trailing
// newline is appended by the session writer, not here.
func Marshal(verb string, fields ...string) string {
	if len(fields) == 0 {
		return verb
	}
	return verb + ":" + strings.Join(fields, ":")
}

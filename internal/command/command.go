// Package command implements the remote-invocation envelope shared by the
// healer endpoint and its clients.
//
// A response is a JSON array of commands. The only kind clients act on is
// "invoke": resolve Selector to an element and call Method on it with
// Arguments. Methods are looked up by name in a Dispatcher, so the server can
// drive new methods without changing the envelope.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// KindInvoke is the command kind clients dispatch.
	KindInvoke = "invoke"

	// MethodTrigger fires an event on the target element.
	MethodTrigger = "trigger"

	// EventPinged carries the token a form should hold.
	EventPinged = "pinged"
)

// ResponseCommand is one entry of a response envelope.
type ResponseCommand struct {
	Command   string `json:"command"`
	Method    string `json:"method"`
	Selector  string `json:"selector"`
	Arguments []any  `json:"arguments"`
}

// Invoke builds an invoke command.
func Invoke(selector, method string, args ...any) ResponseCommand {
	if args == nil {
		args = []any{}
	}
	return ResponseCommand{
		Command:   KindInvoke,
		Method:    method,
		Selector:  selector,
		Arguments: args,
	}
}

// Pinged builds the command telling form formID to hold token. Both values
// are client-controlled and are sanitised before being echoed.
func Pinged(formID, token string) ResponseCommand {
	return Invoke("#"+Sanitize(formID), MethodTrigger, EventPinged, []string{Sanitize(token)})
}

var (
	plainPolicyOnce sync.Once
	plainPolicy     *bluemonday.Policy
)

// Sanitize strips markup from s and HTML-encodes what is left, so that
// reflected request values are inert wherever the client places them.
func Sanitize(s string) string {
	plainPolicyOnce.Do(func() {
		plainPolicy = bluemonday.StrictPolicy()
	})
	return plainPolicy.Sanitize(s)
}

// Encode renders commands as a JSON array. A nil slice encodes as [].
func Encode(cmds []ResponseCommand) ([]byte, error) {
	if cmds == nil {
		cmds = []ResponseCommand{}
	}
	data, err := json.Marshal(cmds)
	if err != nil {
		return nil, fmt.Errorf("encode commands: %w", err)
	}
	return data, nil
}

// Decode parses a response envelope. Some transports deliver the envelope as
// a JSON string holding the encoded array; that form is unwrapped first.
func Decode(data []byte) ([]ResponseCommand, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("decode string envelope: %w", err)
		}
		data = []byte(strings.TrimSpace(inner))
	}

	var cmds []ResponseCommand
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	return cmds, nil
}

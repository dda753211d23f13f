package proto

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyHandshake is returned when the first line carries no identifier.
var ErrEmptyHandshake = errors.New("handshake line is empty")

// EncodeHandshake renders the identifier line the coordinator sends first on a new connection.
func EncodeHandshake(id string) (string, error) {
	if id == "" {
		return "", ErrEmptyHandshake
	}
	if err := checkField(id); err != nil {
		return "", fmt.Errorf("encode handshake: %w", err)
	}
	return id, nil
}

// DecodeHandshake parses the first line of a connection. It carries only the
// player's identifier and is never a regular Message.
func DecodeHandshake(line string) (string, error) {
	id := strings.TrimRight(line, "\r\n")
	if id == "" {
		return "", ErrEmptyHandshake
	}
	if strings.Contains(id, Separator) {
		return "", &ProtocolError{Kind: Malformed, Line: id, Err: errors.New("handshake carries more than an identifier")}
	}
	return id, nil
}

// NewEndSession builds an EndSession message.
func NewEndSession(originator string) Message {
	return Message{Originator: originator, Opcode: EndSession}
}

// NewPutConfiguration builds a message that publishes a configuration string.
func NewPutConfiguration(originator, configuration string) Message {
	return Message{Originator: originator, Opcode: PutConfiguration, Payload: []string{configuration}}
}

// NewGetConfigurationRequest builds a request for the active configuration.
func NewGetConfigurationRequest(originator string) Message {
	return Message{Originator: originator, Opcode: GetConfiguration}
}

// NewConfigurationDelivery builds the coordinator's answer to a GetConfiguration request.
// An empty configuration means none has been set yet.
func NewConfigurationDelivery(addressee, configuration string) Message {
	return Message{Originator: addressee, Opcode: GetConfiguration, Payload: []string{configuration}}
}

// NewPutResult builds a message reporting a finished puzzle.
func NewPutResult(originator string, r Result) Message {
	return Message{Originator: originator, Opcode: PutResult, Payload: []string{r.Pack()}}
}

// IsConfigurationDelivery reports whether m carries a configuration for the receiver.
func IsConfigurationDelivery(m Message) bool {
	return (m.Opcode == GetConfiguration || m.Opcode == PutConfiguration) && len(m.Payload) == 1
}

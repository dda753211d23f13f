package proto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Separator splits the fields of a line.
	Separator = "%"
	// SubSeparator packs sub-values inside a single payload field.
	SubSeparator = ","
)

// ErrInvalidField is returned when a field would break line framing.
var ErrInvalidField = errors.New("field contains a reserved character")

// Opcode identifies the operation a message carries.
type Opcode int

const (
	EndSession Opcode = iota
	PutConfiguration
	GetConfiguration
	PutResult
)

func (o Opcode) String() string {
	switch o {
	case EndSession:
		return "EndSession"
	case PutConfiguration:
		return "PutConfiguration"
	case GetConfiguration:
		return "GetConfiguration"
	case PutResult:
		return "PutResult"
	default:
		return fmt.Sprintf("Opcode(%d)", int(o))
	}
}

// Valid reports whether o is a known operation.
func (o Opcode) Valid() bool {
	return o >= EndSession && o <= PutResult
}

// acceptsFields reports whether n payload fields are allowed for the opcode.
func (o Opcode) acceptsFields(n int) bool {
	switch o {
	case EndSession:
		return n == 0
	case PutConfiguration, PutResult:
		return n == 1
	case GetConfiguration:
		// 0 on the request, 1 on the response
		return n == 0 || n == 1
	default:
		return false
	}
}

// ErrorKind classifies a ProtocolError.
type ErrorKind int

const (
	Malformed ErrorKind = iota
	UnknownOpcode
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnknownOpcode:
		return "unknown opcode"
	default:
		return "unknown"
	}
}

// ProtocolError reports a line that cannot be decoded into a Message.
type ProtocolError struct {
	Kind ErrorKind
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error (%s) in %q: %v", e.Kind, e.Line, e.Err)
	}
	return fmt.Sprintf("protocol error (%s) in %q", e.Kind, e.Line)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Message is one line of the session protocol. A nil Payload is the canonical
// empty payload: Decode never returns an empty non-nil slice.
type Message struct {
	Originator string
	Opcode     Opcode
	Payload    []string
}

// Field returns the i-th payload field, or "" if it is absent.
func (m Message) Field(i int) string {
	if i < 0 || i >= len(m.Payload) {
		return ""
	}
	return m.Payload[i]
}

// Encode renders the message as a single line without the terminator.
func (m Message) Encode() (string, error) {
	if !m.Opcode.Valid() {
		return "", fmt.Errorf("encode %s: unknown opcode", m.Opcode)
	}
	if !m.Opcode.acceptsFields(len(m.Payload)) {
		return "", fmt.Errorf("encode %s: %d payload fields not allowed", m.Opcode, len(m.Payload))
	}

	fields := make([]string, 0, 2+len(m.Payload))
	fields = append(fields, m.Originator, strconv.Itoa(int(m.Opcode)))
	fields = append(fields, m.Payload...)
	for _, f := range fields {
		if err := checkField(f); err != nil {
			return "", fmt.Errorf("encode %s: %w", m.Opcode, err)
		}
	}
	return strings.Join(fields, Separator), nil
}

// Decode parses one line (with or without its terminator) into a Message.
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")

	fields := strings.Split(line, Separator)
	if len(fields) < 2 {
		return Message{}, &ProtocolError{Kind: Malformed, Line: line, Err: errors.New("fewer than 2 fields")}
	}

	digit := fields[1]
	if len(digit) != 1 || digit[0] < '0' || digit[0] > '9' {
		return Message{}, &ProtocolError{Kind: UnknownOpcode, Line: line, Err: fmt.Errorf("opcode %q is not a digit", digit)}
	}
	op := Opcode(digit[0] - '0')
	if !op.Valid() {
		return Message{}, &ProtocolError{Kind: UnknownOpcode, Line: line}
	}

	payload := fields[2:]
	if !op.acceptsFields(len(payload)) {
		return Message{}, &ProtocolError{
			Kind: Malformed,
			Line: line,
			Err:  fmt.Errorf("%s does not take %d payload fields", op, len(payload)),
		}
	}
	if len(payload) == 0 {
		payload = nil
	}

	return Message{Originator: fields[0], Opcode: op, Payload: payload}, nil
}

func checkField(f string) error {
	if strings.ContainsAny(f, Separator+"\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidField, f)
	}
	return nil
}

// IsProtocolError reports whether err is a ProtocolError of the given kind.
func IsProtocolError(err error, kind ErrorKind) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Kind == kind
}

package protocol

type MessageType uint8

const (
	MessageTypeJoin    MessageType = 1
	MessageTypeWelcome MessageType = 2
	MessageTypeKey     MessageType = 3
	MessageTypeError   MessageType = 4
	MessageTypeClose   MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeJoin:
		return "JOIN"
	case MessageTypeWelcome:
		return "WELCOME"
	case MessageTypeKey:
		return "KEY"
	case MessageTypeError:
		return "ERROR"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

package protocol

import "github.com/google/uuid"

// PlaceholderColor is the avatar color decoders fill in for kinds whose records
// carry no avatarColor (user_leave and typing).
const PlaceholderColor = "#000000"

// User identifies a chat participant.
// UserID is the roster key; Username may repeat across users.
type User struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AvatarColor string `json:"avatarColor"`
}

// NewUser creates an identity with a freshly assigned user id.
func NewUser(username, avatarColor string) User {
	return User{
		UserID:      uuid.NewString(),
		Username:    username,
		AvatarColor: avatarColor,
	}
}

// Kind is the wire discriminant of an event.
type Kind string

const (
	KindUserJoin     Kind = "user_join"
	KindUserLeave    Kind = "user_leave"
	KindTextMessage  Kind = "text_message"
	KindImageMessage Kind = "image_message"
	KindTyping       Kind = "typing"
	KindUserList     Kind = "user_list"

	// KindConnectionStatus is local to the client and has no wire form.
	KindConnectionStatus Kind = "connection_status"
)

// String returns the discriminant text.
func (k Kind) String() string {
	return string(k)
}

// Event is a chat event. The set of implementations is closed to this package.
type Event interface {
	Kind() Kind
	isEvent()
}

// UserJoined announces a user entering the chat.
type UserJoined struct {
	User      User
	Timestamp int64
}

// UserLeft announces a user leaving, either voluntarily or synthesized by the server.
type UserLeft struct {
	User      User
	Timestamp int64
}

// TextMessage carries a chat line.
type TextMessage struct {
	User      User
	Text      string
	Timestamp int64
}

// ImageMessage carries a compressed, base64 encoded image.
type ImageMessage struct {
	User      User
	ImageData string
	Timestamp int64
}

// TypingIndicator reports whether a user is typing. It has no timestamp.
type TypingIndicator struct {
	User     User
	IsTyping bool
}

// UserListUpdate is the roster snapshot the server sends to a newly joined connection.
type UserListUpdate struct {
	Users []User
}

// ConnectionStatusChanged is emitted by the client on state transitions.
// It is never serialized.
type ConnectionStatusChanged struct {
	Status ConnectionStatus
}

func (UserJoined) Kind() Kind              { return KindUserJoin }
func (UserLeft) Kind() Kind                { return KindUserLeave }
func (TextMessage) Kind() Kind             { return KindTextMessage }
func (ImageMessage) Kind() Kind            { return KindImageMessage }
func (TypingIndicator) Kind() Kind         { return KindTyping }
func (UserListUpdate) Kind() Kind          { return KindUserList }
func (ConnectionStatusChanged) Kind() Kind { return KindConnectionStatus }

func (UserJoined) isEvent()              {}
func (UserLeft) isEvent()                {}
func (TextMessage) isEvent()             {}
func (ImageMessage) isEvent()            {}
func (TypingIndicator) isEvent()         {}
func (UserListUpdate) isEvent()          {}
func (ConnectionStatusChanged) isEvent() {}

// ConnectionStatus is the client connection state.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusError
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ServerStatus is the chat server lifecycle state.
type ServerStatus int

const (
	ServerStopped ServerStatus = iota
	ServerStarting
	ServerRunning
	ServerError
)

// String returns the string representation of ServerStatus
func (s ServerStatus) String() string {
	switch s {
	case ServerStopped:
		return "STOPPED"
	case ServerStarting:
		return "STARTING"
	case ServerRunning:
		return "RUNNING"
	case ServerError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

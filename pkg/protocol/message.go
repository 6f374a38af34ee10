// Package protocol defines the chat wire contract: the event types exchanged between
// server and clients, their one-JSON-object-per-line encoding, and the image payload codec.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotSerializable is returned when encoding a local-only event.
var ErrNotSerializable = errors.New("event is not serializable")

// ParseError reports a record that could not be decoded into an event.
// Receivers drop such records and keep reading.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// record is the flat wire form shared by every kind.
// Pointer fields tell an absent key apart from a zero value.
type record struct {
	Type        string        `json:"type"`
	UserID      *string       `json:"userId,omitempty"`
	Username    *string       `json:"username,omitempty"`
	AvatarColor *string       `json:"avatarColor,omitempty"`
	Message     *string       `json:"message,omitempty"`
	ImageData   *string       `json:"imageData,omitempty"`
	Timestamp   *int64        `json:"timestamp,omitempty"`
	IsTyping    *bool         `json:"isTyping,omitempty"`
	Users       *[]userRecord `json:"users,omitempty"`
}

type userRecord struct {
	UserID      *string `json:"userId"`
	Username    *string `json:"username"`
	AvatarColor *string `json:"avatarColor"`
}

// codec maps one kind to and from its wire record.
type codec struct {
	encode func(Event) (record, error)
	decode func(*record) (Event, error)
}

func entry[E Event](enc func(E) record, dec func(*record) (E, error)) codec {
	return codec{
		encode: func(e Event) (record, error) {
			ev, ok := e.(E)
			if !ok {
				return record{}, fmt.Errorf("%w: %T", ErrNotSerializable, e)
			}
			return enc(ev), nil
		},
		decode: func(r *record) (Event, error) {
			ev, err := dec(r)
			if err != nil {
				return nil, err
			}
			return ev, nil
		},
	}
}

// codecs is the wire schema. Kinds missing from it have no wire form.
var codecs = map[Kind]codec{
	KindUserJoin: entry(
		func(e UserJoined) record {
			r := userRecordOf(e.User, true)
			r.Timestamp = &e.Timestamp
			return r
		},
		func(r *record) (UserJoined, error) {
			u, err := r.user(true)
			if err != nil {
				return UserJoined{}, err
			}
			ts, err := field("timestamp", r.Timestamp)
			return UserJoined{User: u, Timestamp: ts}, err
		},
	),
	KindUserLeave: entry(
		func(e UserLeft) record {
			r := userRecordOf(e.User, false)
			r.Timestamp = &e.Timestamp
			return r
		},
		func(r *record) (UserLeft, error) {
			u, err := r.user(false)
			if err != nil {
				return UserLeft{}, err
			}
			ts, err := field("timestamp", r.Timestamp)
			return UserLeft{User: u, Timestamp: ts}, err
		},
	),
	KindTextMessage: entry(
		func(e TextMessage) record {
			r := userRecordOf(e.User, true)
			r.Message = &e.Text
			r.Timestamp = &e.Timestamp
			return r
		},
		func(r *record) (TextMessage, error) {
			u, err := r.user(true)
			if err != nil {
				return TextMessage{}, err
			}
			text, err := field("message", r.Message)
			if err != nil {
				return TextMessage{}, err
			}
			ts, err := field("timestamp", r.Timestamp)
			return TextMessage{User: u, Text: text, Timestamp: ts}, err
		},
	),
	KindImageMessage: entry(
		func(e ImageMessage) record {
			r := userRecordOf(e.User, true)
			r.ImageData = &e.ImageData
			r.Timestamp = &e.Timestamp
			return r
		},
		func(r *record) (ImageMessage, error) {
			u, err := r.user(true)
			if err != nil {
				return ImageMessage{}, err
			}
			data, err := field("imageData", r.ImageData)
			if err != nil {
				return ImageMessage{}, err
			}
			ts, err := field("timestamp", r.Timestamp)
			return ImageMessage{User: u, ImageData: data, Timestamp: ts}, err
		},
	),
	KindTyping: entry(
		func(e TypingIndicator) record {
			r := userRecordOf(e.User, false)
			r.IsTyping = &e.IsTyping
			return r
		},
		func(r *record) (TypingIndicator, error) {
			u, err := r.user(false)
			if err != nil {
				return TypingIndicator{}, err
			}
			typing, err := field("isTyping", r.IsTyping)
			return TypingIndicator{User: u, IsTyping: typing}, err
		},
	),
	KindUserList: entry(
		func(e UserListUpdate) record {
			users := make([]userRecord, 0, len(e.Users))
			for _, u := range e.Users {
				users = append(users, userRecord{
					UserID:      &u.UserID,
					Username:    &u.Username,
					AvatarColor: &u.AvatarColor,
				})
			}
			return record{Users: &users}
		},
		func(r *record) (UserListUpdate, error) {
			list, err := field("users", r.Users)
			if err != nil {
				return UserListUpdate{}, err
			}
			users := make([]User, 0, len(list))
			for i, ur := range list {
				u, err := ur.user()
				if err != nil {
					return UserListUpdate{}, &ParseError{Reason: fmt.Sprintf("users[%d]", i), Err: err}
				}
				users = append(users, u)
			}
			return UserListUpdate{Users: users}, nil
		},
	),
}

// Encode serializes an event into a single-line record without the trailing line break.
// Local-only events yield ErrNotSerializable and no output.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, ErrNotSerializable
	}
	c, ok := codecs[e.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSerializable, e.Kind())
	}
	r, err := c.encode(e)
	if err != nil {
		return nil, err
	}
	r.Type = e.Kind().String()

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

// Decode parses one record. Every failure is reported as a *ParseError.
func Decode(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, &ParseError{Reason: "empty record"}
	}

	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, &ParseError{Reason: "malformed record", Err: err}
	}

	c, ok := codecs[Kind(r.Type)]
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("unknown type %q", r.Type)}
	}
	return c.decode(&r)
}

func userRecordOf(u User, withColor bool) record {
	r := record{
		UserID:   &u.UserID,
		Username: &u.Username,
	}
	if withColor {
		r.AvatarColor = &u.AvatarColor
	}
	return r
}

// user rebuilds the sender. Kinds without a color get PlaceholderColor.
func (r *record) user(withColor bool) (User, error) {
	id, err := field("userId", r.UserID)
	if err != nil {
		return User{}, err
	}
	name, err := field("username", r.Username)
	if err != nil {
		return User{}, err
	}
	color := PlaceholderColor
	if withColor {
		if color, err = field("avatarColor", r.AvatarColor); err != nil {
			return User{}, err
		}
	}
	return User{UserID: id, Username: name, AvatarColor: color}, nil
}

func (ur userRecord) user() (User, error) {
	r := record{UserID: ur.UserID, Username: ur.Username, AvatarColor: ur.AvatarColor}
	return r.user(true)
}

func field[T any](name string, v *T) (T, error) {
	if v == nil {
		var zero T
		return zero, &ParseError{Reason: fmt.Sprintf("missing field %q", name)}
	}
	return *v, nil
}

package signaling

import (
	"encoding/json"
	"unicode/utf8"
)

type MessageType string

const (
	MessageTypeID    MessageType = "id"
	MessageTypeJoin  MessageType = "join"
	MessageTypeUsers MessageType = "users"

	// Relay types used by the browser client. Any type other than join is
	// relayed, so these are not exhaustive.
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeICECandidate MessageType = "ice-candidate"
)

// Envelope is a parsed client->server message: JoinMessage or RelayMessage.
type Envelope interface {
	MessageType() MessageType
}

type JoinMessage struct {
	ClientID string
	Username string
}

func (JoinMessage) MessageType() MessageType { return MessageTypeJoin }

// RelayMessage is any non-join envelope. Raw holds the exact bytes received,
// which are what the recipient gets.
type RelayMessage struct {
	Type     MessageType
	OfferID  string
	AnswerID string
	Raw      []byte
}

func (m RelayMessage) MessageType() MessageType { return m.Type }

// IDMessage is the first frame sent on every connection.
type IDMessage struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

type User struct {
	ClientID string `json:"clientId"`
	Username string `json:"username"`
}

// UsersMessage carries the full roster.
type UsersMessage struct {
	Type  MessageType `json:"type"`
	Users []User      `json:"users"`
}

func encodeIDMessage(id string) ([]byte, error) {
	return json.Marshal(IDMessage{Type: MessageTypeID, ID: id})
}

func encodeUsersMessage(members []Member) ([]byte, error) {
	users := make([]User, 0, len(members))
	for _, m := range members {
		users = append(users, User{ClientID: m.ID, Username: m.Username})
	}
	return json.Marshal(UsersMessage{Type: MessageTypeUsers, Users: users})
}

// ParseEnvelope validates an inbound frame. Errors wrap ErrProtocol.
//
// The frame must be valid UTF-8. join requires string clientId and username fields. Every other type requires
// a string answerId; offerId is read when present but not validated.
func ParseEnvelope(data []byte) (Envelope, error) {
	// Relayed bytes go out as text frames, which peers reject unless valid UTF-8.
	if !utf8.Valid(data) {
		return nil, protocolErrorf("invalid UTF-8")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, protocolErrorf("invalid JSON: %v", err)
	}
	if fields == nil {
		return nil, protocolErrorf("envelope must be a JSON object")
	}

	typ, ok, err := stringField(fields, "type")
	if err != nil {
		return nil, err
	}
	if !ok || typ == "" {
		return nil, protocolErrorf("missing type")
	}

	if MessageType(typ) == MessageTypeJoin {
		clientID, ok, err := stringField(fields, "clientId")
		if err != nil {
			return nil, err
		}
		if !ok || clientID == "" {
			return nil, protocolErrorf("join: missing clientId")
		}
		username, ok, err := stringField(fields, "username")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, protocolErrorf("join: missing username")
		}
		return JoinMessage{ClientID: clientID, Username: username}, nil
	}

	answerID, ok, err := stringField(fields, "answerId")
	if err != nil {
		return nil, err
	}
	if !ok || answerID == "" {
		return nil, protocolErrorf("%s: missing answerId", typ)
	}
	offerID, _, _ := stringField(fields, "offerId")

	return RelayMessage{
		Type:     MessageType(typ),
		OfferID:  offerID,
		AnswerID: answerID,
		Raw:      data,
	}, nil
}

// stringField reads fields[name]. A JSON null counts as absent.
func stringField(fields map[string]json.RawMessage, name string) (string, bool, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, protocolErrorf("field %q must be a string", name)
	}
	return s, true, nil
}

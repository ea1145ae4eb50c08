package claude

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
)

// Text is a string field decoded leniently: numbers and booleans keep their
// literal text, null and composite values decode as "".
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	case data[0] == '{' || data[0] == '[':
		*t = ""
	default:
		*t = Text(data)
	}
	return nil
}

// String returns t as a string.
func (t Text) String() string {
	return string(t)
}

// Bool is a boolean decoded leniently from JSON booleans, numbers and
// strings. Set is false when the field is absent or null.
type Bool struct {
	Set   bool
	Value bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bool) UnmarshalJSON(data []byte) error {
	var t Text
	if err := t.UnmarshalJSON(data); err != nil {
		return err
	}
	if t == "" {
		*b = Bool{}
		return nil
	}
	v, err := strconv.ParseBool(string(t))
	*b = Bool{Set: err == nil, Value: v}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b Bool) MarshalJSON() ([]byte, error) {
	if !b.Set {
		return []byte("null"), nil
	}
	return json.Marshal(b.Value)
}

// Project is a project as returned by the API. Listings omit PromptTemplate.
type Project struct {
	UUID           Text `json:"uuid"`
	Name           Text `json:"name"`
	Description    Text `json:"description"`
	PromptTemplate Text `json:"prompt_template"`
	CreatedAt      Text `json:"created_at"`
	UpdatedAt      Text `json:"updated_at"`
	IsPrivate      Bool `json:"is_private"`
	IsStarred      Bool `json:"is_starred"`
	ArchivedAt     Text `json:"archived_at"`
}

// Document is a project knowledge file. Listings include the content.
type Document struct {
	UUID      Text `json:"uuid"`
	FileName  Text `json:"file_name"`
	Filename  Text `json:"filename"`
	Content   Text `json:"content"`
	CreatedAt Text `json:"created_at"`
	UpdatedAt Text `json:"updated_at"`
}

// Name returns the file name the API reported, under either key.
func (d *Document) Name() string {
	if d.FileName != "" {
		return string(d.FileName)
	}
	return string(d.Filename)
}

// ProjectRef is the nested project of a conversation.
type ProjectRef struct {
	UUID Text `json:"uuid"`
	Name Text `json:"name"`
}

// Conversation is a chat. Listings omit Messages.
type Conversation struct {
	UUID        Text        `json:"uuid"`
	Name        Text        `json:"name"`
	Summary     Text        `json:"summary"`
	Model       Text        `json:"model"`
	CreatedAt   Text        `json:"created_at"`
	UpdatedAt   Text        `json:"updated_at"`
	ProjectUUID Text        `json:"project_uuid"`
	Project     *ProjectRef `json:"project"`
	IsStarred   Bool        `json:"is_starred"`
	Messages    []Message   `json:"chat_messages"`
}

// InProject reports whether the conversation belongs to a project.
func (c *Conversation) InProject() bool {
	return c.ProjectUUID != "" || (c.Project != nil && c.Project.UUID != "")
}

// Message is one turn of a conversation.
type Message struct {
	UUID      Text           `json:"uuid"`
	Sender    Text           `json:"sender"`
	Text      Text           `json:"text"`
	CreatedAt Text           `json:"created_at"`
	Content   []ContentBlock `json:"content"`
}

// ContentBlock is a typed fragment of a message.
type ContentBlock struct {
	Type Text `json:"type"`
	Text Text `json:"text"`
	Name Text `json:"name"`
}

// Body returns the message text, assembled from the text blocks when the
// flat text field is empty.
func (m *Message) Body() string {
	if m.Text != "" {
		return string(m.Text)
	}
	var b bytes.Buffer
	for _, c := range m.Content {
		if c.Type != "" && c.Type != "text" {
			continue
		}
		if b.Len() > 0 && c.Text != "" {
			b.WriteString("\n\n")
		}
		b.WriteString(string(c.Text))
	}
	return b.String()
}

// decodeList decodes a JSON array record by record. A record that is not an
// object decodes as the zero value, which has no UUID, so the caller reports
// it as a failed entity instead of losing the whole listing.
func decodeList[T any](data []byte, what string) ([]T, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{What: what, Err: err}
	}
	out := make([]T, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &out[i]); err != nil {
			slog.Debug("malformed record", "what", what, "index", i, "err", err)
			var zero T
			out[i] = zero
		}
	}
	return out, nil
}

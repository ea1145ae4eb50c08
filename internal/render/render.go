// Package render turns fetched API objects into file contents.
//
// Rendering is a pure function of the remote data: the same input always
// yields the same bytes, so unchanged entities never rewrite their files.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/maruel/claude-sync/internal/claude"
)

// Fixed file names.
const (
	InstructionsFile = "CLAUDE.md"
	MetaFile         = "meta.json"
	ManifestFile     = "index.json"
)

type instructionsHeader struct {
	Source    string `yaml:"source"`
	Name      string `yaml:"name,omitempty"`
	UpdatedAt string `yaml:"updated_at,omitempty"`
}

// Instructions renders the project's prompt template as CLAUDE.md.
func Instructions(p *claude.Project) ([]byte, error) {
	h := instructionsHeader{
		Source:    "claude.ai/project/" + string(p.UUID),
		Name:      string(p.Name),
		UpdatedAt: string(p.UpdatedAt),
	}
	body := string(p.PromptTemplate)
	if strings.TrimSpace(body) == "" {
		name := string(p.Name)
		if name == "" {
			name = "Unnamed Project"
		}
		body = fmt.Sprintf("# %s\n\n_No project instructions defined._\n", name)
	}
	return withFrontMatter(h, body)
}

// Meta is the content of meta.json.
type Meta struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	IsPrivate   bool   `json:"is_private"`
	IsStarred   bool   `json:"is_starred,omitempty"`
	ArchivedAt  string `json:"archived_at,omitempty"`
}

// ProjectMeta renders meta.json. Projects are private unless the API says
// otherwise.
func ProjectMeta(p *claude.Project) ([]byte, error) {
	m := Meta{
		UUID:        string(p.UUID),
		Name:        string(p.Name),
		Description: string(p.Description),
		CreatedAt:   string(p.CreatedAt),
		UpdatedAt:   string(p.UpdatedAt),
		IsPrivate:   !p.IsPrivate.Set || p.IsPrivate.Value,
		IsStarred:   p.IsStarred.Value,
		ArchivedAt:  string(p.ArchivedAt),
	}
	return marshalJSON(m)
}

// Document returns the document content verbatim.
func Document(d *claude.Document) []byte {
	return []byte(d.Content)
}

// DocumentName returns the desired file name of a document.
func DocumentName(d *claude.Document) string {
	if n := d.Name(); n != "" {
		return n
	}
	return "untitled"
}

type transcriptHeader struct {
	UUID        string `yaml:"uuid"`
	Name        string `yaml:"name,omitempty"`
	Model       string `yaml:"model,omitempty"`
	ProjectUUID string `yaml:"project_uuid,omitempty"`
	CreatedAt   string `yaml:"created_at,omitempty"`
	UpdatedAt   string `yaml:"updated_at,omitempty"`
	Messages    int    `yaml:"messages"`
}

// ConversationName returns the desired file name of a conversation.
func ConversationName(c *claude.Conversation) string {
	if c.Name != "" {
		return string(c.Name)
	}
	return "untitled-" + string(c.UUID)
}

// Transcript renders a conversation as markdown. It returns the content and
// the number of messages.
func Transcript(c *claude.Conversation) ([]byte, int, error) {
	project := string(c.ProjectUUID)
	if project == "" && c.Project != nil {
		project = string(c.Project.UUID)
	}
	h := transcriptHeader{
		UUID:        string(c.UUID),
		Name:        string(c.Name),
		Model:       string(c.Model),
		ProjectUUID: project,
		CreatedAt:   string(c.CreatedAt),
		UpdatedAt:   string(c.UpdatedAt),
		Messages:    len(c.Messages),
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", ConversationName(c))
	if c.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(string(c.Summary)))
	}
	for i := range c.Messages {
		m := &c.Messages[i]
		fmt.Fprintf(&b, "\n## %s", speaker(string(m.Sender)))
		if m.CreatedAt != "" {
			fmt.Fprintf(&b, " (%s)", m.CreatedAt)
		}
		b.WriteString("\n\n")
		if body := strings.TrimRight(m.Body(), "\n"); body != "" {
			b.WriteString(body)
			b.WriteString("\n")
		}
	}
	data, err := withFrontMatter(h, b.String())
	return data, len(c.Messages), err
}

func speaker(sender string) string {
	switch sender {
	case "human":
		return "Human"
	case "assistant":
		return "Assistant"
	case "":
		return "Unknown"
	}
	r, n := utf8.DecodeRuneInString(sender)
	return string(unicode.ToUpper(r)) + sender[n:]
}

// ManifestProject is one project entry of index.json.
type ManifestProject struct {
	Name               string `json:"name"`
	Slug               string `json:"slug"`
	Path               string `json:"path"`
	UpdatedAt          string `json:"updated_at,omitempty"`
	DocsCount          int    `json:"docs_count"`
	ConversationsCount int    `json:"conversations_count,omitempty"`
}

// Manifest is the content of index.json.
type Manifest struct {
	OrgID                   string                     `json:"org_id"`
	Projects                map[string]ManifestProject `json:"projects"`
	StandaloneConversations int                        `json:"standalone_conversations,omitempty"`
}

// ManifestJSON renders index.json. Map keys are sorted by encoding/json.
func ManifestJSON(m *Manifest) ([]byte, error) {
	if m.Projects == nil {
		m.Projects = map[string]ManifestProject{}
	}
	return marshalJSON(m)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func withFrontMatter(header any, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	buf.WriteString("---\n\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/maruel/claude-sync/internal/claude"
)

// splitFrontMatter decodes the YAML header of a rendered file into v and
// returns the body.
func splitFrontMatter(t *testing.T, data []byte, v any) []byte {
	t.Helper()
	rest, ok := bytes.CutPrefix(data, []byte("---\n"))
	if !ok {
		t.Fatalf("no front matter in %q", data)
	}
	header, body, ok := bytes.Cut(rest, []byte("\n---\n"))
	if !ok {
		t.Fatalf("unterminated front matter in %q", data)
	}
	if err := yaml.Unmarshal(header, v); err != nil {
		t.Fatal(err)
	}
	return bytes.TrimPrefix(body, []byte("\n"))
}

func TestInstructions(t *testing.T) {
	p := &claude.Project{UUID: "p1", Name: "Proj", UpdatedAt: "2024-01-01T00:00:00Z", PromptTemplate: "Be brief."}
	data, err := Instructions(p)
	if err != nil {
		t.Fatal(err)
	}
	var h instructionsHeader
	body := splitFrontMatter(t, data, &h)
	if h.Source != "claude.ai/project/p1" || h.UpdatedAt != "2024-01-01T00:00:00Z" || h.Name != "Proj" {
		t.Errorf("header = %+v", h)
	}
	if string(body) != "Be brief.\n" {
		t.Errorf("body = %q", body)
	}
	again, err := Instructions(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("rendering must be deterministic")
	}
}

func TestInstructionsPlaceholder(t *testing.T) {
	data, err := Instructions(&claude.Project{UUID: "p1", Name: "Empty"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "# Empty\n\n_No project instructions defined._\n") {
		t.Errorf("got %q", data)
	}
}

func TestProjectMeta(t *testing.T) {
	data, err := ProjectMeta(&claude.Project{UUID: "p1", Name: "P", CreatedAt: "c"})
	if err != nil {
		t.Fatal(err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if !m.IsPrivate || m.UUID != "p1" || m.CreatedAt != "c" {
		t.Errorf("meta = %+v", m)
	}
	data, err = ProjectMeta(&claude.Project{UUID: "p1", IsPrivate: claude.Bool{Set: true}})
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.IsPrivate {
		t.Error("explicit is_private=false must be kept")
	}
}

func TestTranscript(t *testing.T) {
	c := &claude.Conversation{
		UUID:      "c1",
		Name:      "Chat",
		Model:     "claude-x",
		UpdatedAt: "2024-02-02T00:00:00Z",
		Messages: []claude.Message{
			{Sender: "human", Text: "Hi", CreatedAt: "t1"},
			{Sender: "assistant", Content: []claude.ContentBlock{{Type: "text", Text: "Hello\n"}}},
			{Sender: "système", Text: "x"},
		},
	}
	data, n, err := Transcript(c)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("n = %d", n)
	}
	var h transcriptHeader
	body := splitFrontMatter(t, data, &h)
	if h.UUID != "c1" || h.Messages != 3 || h.Model != "claude-x" {
		t.Errorf("header = %+v", h)
	}
	want := "# Chat\n\n## Human (t1)\n\nHi\n\n## Assistant\n\nHello\n\n## Système\n\nx\n"
	if string(body) != want {
		t.Errorf("body = %q\nwant  %q", body, want)
	}
	if name := ConversationName(&claude.Conversation{UUID: "c9"}); name != "untitled-c9" {
		t.Errorf("ConversationName = %q", name)
	}
}

func TestManifest(t *testing.T) {
	data, err := ManifestJSON(&Manifest{
		OrgID: "org",
		Projects: map[string]ManifestProject{
			"b": {Name: "B", Slug: "b-1", Path: "b-1/"},
			"a": {Name: "A", Slug: "a-1", Path: "a-1/", DocsCount: 2},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Index(data, []byte(`"a"`)) > bytes.Index(data, []byte(`"b"`)) {
		t.Error("projects must be sorted")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Projects["a"].DocsCount != 2 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestDocumentName(t *testing.T) {
	if got := DocumentName(&claude.Document{Filename: "x.txt"}); got != "x.txt" {
		t.Errorf("got %q", got)
	}
	if got := DocumentName(&claude.Document{}); got != "untitled" {
		t.Errorf("got %q", got)
	}
}

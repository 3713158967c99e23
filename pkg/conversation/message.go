package conversation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleTool      Role = "tool"
)

type ImageDetail string

const (
	ImageDetailLow  ImageDetail = "low"
	ImageDetailHigh ImageDetail = "high"
	ImageDetailAuto ImageDetail = "auto"
)

// ImageContent is an image part attached to a user message, either by URL or
// with the raw bytes inlined.
type ImageContent struct {
	ImageURL     string      `json:"imageURL,omitempty"`
	ImageContent []byte      `json:"imageContent,omitempty"`
	ImageName    string      `json:"imageName,omitempty"`
	MediaType    string      `json:"mediaType,omitempty"`
	Detail       ImageDetail `json:"detail,omitempty"`
}

func NewImageContentFromFile(path string) (*ImageContent, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return &ImageContent{
			ImageURL:  path,
			ImageName: filepath.Base(path),
			Detail:    ImageDetailAuto,
		}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %v", err)
	}
	if fileInfo.Size() > 20*1024*1024 {
		return nil, fmt.Errorf("image size exceeds 20MB limit")
	}

	mediaType := getMediaTypeFromExtension(filepath.Ext(path))
	if mediaType == "" {
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %v", err)
	}

	return &ImageContent{
		ImageContent: content,
		ImageName:    fileInfo.Name(),
		MediaType:    mediaType,
		Detail:       ImageDetailAuto,
	}, nil
}

func getMediaTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}

// ToolCall is a tool invocation requested by an assistant message.
// Arguments is the JSON-encoded argument object exactly as the model sent it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one protocol message as exchanged with the completion service.
type Message struct {
	Role       Role            `json:"role"`
	Content    string          `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	Images     []*ImageContent `json:"images,omitempty"`
}

func NewUserMessage(text string, images ...*ImageContent) Message {
	return Message{Role: RoleUser, Content: text, Images: images}
}

func NewAssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

func NewToolResultMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Name: toolName, ToolCallID: callID, Content: content}
}

// HasText reports whether the message carries textual content. Messages that
// only request tool calls do not.
func (m Message) HasText() bool {
	return m.Content != ""
}

// TextLength is the number of characters of textual content.
func (m Message) TextLength() int {
	if !m.HasText() {
		return 0
	}
	return utf8.RuneCountInString(m.Content)
}

func (m Message) String() string {
	if len(m.ToolCalls) > 0 && !m.HasText() {
		names := make([]string, 0, len(m.ToolCalls))
		for _, c := range m.ToolCalls {
			names = append(names, c.Name)
		}
		return fmt.Sprintf("[%s]: <tool calls: %s>", m.Role, strings.Join(names, ", "))
	}
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

// Envelope wraps a stored message with bookkeeping that never leaves the
// process: the tool call identifiers the message produced or answers, and
// when it was appended.
type Envelope struct {
	Message     Message   `json:"message"`
	ToolCallIDs []string  `json:"tool_call_ids,omitempty"`
	AppendedAt  time.Time `json:"appended_at"`
}

// NewEnvelope wraps msg, deriving ToolCallIDs from the message itself.
func NewEnvelope(msg Message) Envelope {
	env := Envelope{Message: msg}
	for _, c := range msg.ToolCalls {
		env.ToolCallIDs = append(env.ToolCallIDs, c.ID)
	}
	if msg.ToolCallID != "" {
		env.ToolCallIDs = append(env.ToolCallIDs, msg.ToolCallID)
	}
	return env
}

// Equal reports whether two envelopes hold the same message and metadata.
// AppendedAt is ignored.
func (e Envelope) Equal(other Envelope) bool {
	return cmp.Equal(e.Message, other.Message, cmpopts.EquateEmpty()) &&
		cmp.Equal(e.ToolCallIDs, other.ToolCallIDs, cmpopts.EquateEmpty())
}

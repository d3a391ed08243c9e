package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an incoming chat message. ChannelID and UserID are opaque,
// adapter-defined identifiers.
type Message struct {
	ID        int
	ChannelID string
	UserID    string
	Username  string
	Text      string
	IsGroup   bool
}

// Sender returns the identity used for subscriptions. It is the user id,
// which survives username changes.
func (m *Message) Sender() string {
	if m == nil {
		return ""
	}
	return m.UserID
}

type ChatTarget struct {
	Channel string
}

type MessageRef struct {
	Channel   string
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is one entry of a platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

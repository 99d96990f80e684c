package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sumeria/sumeria/internal/accounts"
	"github.com/sumeria/sumeria/internal/google"
	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/oauth"
	"github.com/sumeria/sumeria/internal/retry"
)

const (
	// MaxAttachmentSize defines the maximum attachment size in bytes (25MB)
	MaxAttachmentSize = 25 * 1024 * 1024

	// DefaultSearchResults caps SearchMessages when no limit is given.
	DefaultSearchResults = 10

	me = "me"
)

// Options configures clients built by NewClient.
type Options struct {
	// Invoker wraps every API call. Defaults to retry.NewInvoker("gmail").
	Invoker *retry.Invoker
	// Endpoint overrides the API base URL.
	Endpoint string
	// ClientOptions are appended when the service is created.
	ClientOptions []option.ClientOption
}

// Client wraps the Gmail Users service of one account.
type Client struct {
	src     google.AccountTokenSource
	invoker *retry.Invoker
	opts    []option.ClientOption

	mu  sync.Mutex
	svc *gmail.UsersService
}

// NewClient returns a client for the account of src. The Gmail service is
// created on first use; NewClient performs no I/O.
func NewClient(src google.AccountTokenSource, opts Options) *Client {
	inv := opts.Invoker
	if inv == nil {
		inv = retry.NewInvoker(instrumentation.ServiceGmail)
	}
	clientOpts := append(google.ClientOptions(src, opts.Endpoint), opts.ClientOptions...)
	return &Client{src: src, invoker: inv, opts: clientOpts}
}

// Factory returns an accounts.ClientFactory building Gmail clients.
func Factory(opts Options) accounts.ClientFactory[*Client] {
	return func(h *oauth.Handler) (*Client, error) {
		return NewClient(h, opts), nil
	}
}

// Account returns the account name this client is associated with
func (c *Client) Account() string {
	return c.src.AccountID()
}

func (c *Client) users() (*gmail.UsersService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc != nil {
		return c.svc, nil
	}
	svc, err := gmail.NewService(context.Background(), c.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	c.svc = svc.Users
	return c.svc, nil
}

// call runs fn under the client's invoker. Each attempt first obtains the
// account's credential with the caller's context.
func call[T any](ctx context.Context, c *Client, operation string, fn func(ctx context.Context, users *gmail.UsersService) (T, error)) (T, error) {
	return retry.Invoke(ctx, c.invoker, operation, func(ctx context.Context) (T, error) {
		var zero T
		if _, err := c.src.Token(ctx); err != nil {
			return zero, err
		}
		users, err := c.users()
		if err != nil {
			return zero, err
		}
		return fn(ctx, users)
	})
}

// SendMessage sends msg and returns the id of the sent message.
func (c *Client) SendMessage(ctx context.Context, msg *EmailMessage) (string, error) {
	raw, err := msg.Build()
	if err != nil {
		return "", err
	}
	return c.SendRaw(ctx, raw)
}

// SendRaw sends an RFC 822 message and returns the id of the sent message.
func (c *Client) SendRaw(ctx context.Context, raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("message is empty")
	}
	encoded := base64.URLEncoding.EncodeToString(raw)
	sent, err := call(ctx, c, instrumentation.OperationSend, func(ctx context.Context, users *gmail.UsersService) (*gmail.Message, error) {
		return users.Messages.Send(me, &gmail.Message{Raw: encoded}).Context(ctx).Do()
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return sent.Id, nil
}

// GetMessage retrieves a full Gmail message
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	if messageID == "" {
		return nil, errors.New("messageID is required")
	}
	msg, err := call(ctx, c, instrumentation.OperationGet, func(ctx context.Context, users *gmail.UsersService) (*gmail.Message, error) {
		return users.Messages.Get(me, messageID).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return msg, nil
}

// SearchMessages lists the messages matching query and fetches each of them.
// maxResults <= 0 uses DefaultSearchResults.
func (c *Client) SearchMessages(ctx context.Context, query string, maxResults int64) ([]MessageSummary, error) {
	if maxResults <= 0 {
		maxResults = DefaultSearchResults
	}
	res, err := call(ctx, c, instrumentation.OperationSearch, func(ctx context.Context, users *gmail.UsersService) (*gmail.ListMessagesResponse, error) {
		return users.Messages.List(me).Q(query).MaxResults(maxResults).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	summaries := make([]MessageSummary, 0, len(res.Messages))
	for _, m := range res.Messages {
		msg, err := c.GetMessage(ctx, m.Id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, Summarize(msg))
	}
	return summaries, nil
}

// MarkAsRead removes the UNREAD label from a message.
func (c *Client) MarkAsRead(ctx context.Context, messageID string) error {
	return c.modify(ctx, messageID, &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}})
}

// MarkAsUnread adds the UNREAD label to a message.
func (c *Client) MarkAsUnread(ctx context.Context, messageID string) error {
	return c.modify(ctx, messageID, &gmail.ModifyMessageRequest{AddLabelIds: []string{"UNREAD"}})
}

// AddLabel adds labelID to a message.
func (c *Client) AddLabel(ctx context.Context, messageID, labelID string) error {
	if labelID == "" {
		return errors.New("labelID is required")
	}
	return c.modify(ctx, messageID, &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}})
}

func (c *Client) modify(ctx context.Context, messageID string, req *gmail.ModifyMessageRequest) error {
	if messageID == "" {
		return errors.New("messageID is required")
	}
	_, err := call(ctx, c, instrumentation.OperationUpdate, func(ctx context.Context, users *gmail.UsersService) (*gmail.Message, error) {
		return users.Messages.Modify(me, messageID, req).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to modify message %s: %w", messageID, err)
	}
	return nil
}

// TrashMessage moves a message to the trash.
func (c *Client) TrashMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return errors.New("messageID is required")
	}
	_, err := call(ctx, c, instrumentation.OperationDelete, func(ctx context.Context, users *gmail.UsersService) (*gmail.Message, error) {
		return users.Messages.Trash(me, messageID).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to trash message %s: %w", messageID, err)
	}
	return nil
}

// GetAttachment retrieves the decoded content of an attachment.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if messageID == "" {
		return nil, errors.New("messageID is required")
	}
	if attachmentID == "" {
		return nil, errors.New("attachmentID is required")
	}

	attachment, err := call(ctx, c, instrumentation.OperationGet, func(ctx context.Context, users *gmail.UsersService) (*gmail.MessagePartBody, error) {
		return users.Messages.Attachments.Get(me, messageID, attachmentID).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", attachmentID, err)
	}

	if attachment.Size > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment size %d exceeds maximum size %d", attachment.Size, MaxAttachmentSize)
	}
	return decodeBase64(attachment.Data)
}

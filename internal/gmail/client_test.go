package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/sumeria/sumeria/internal/apperr"
	"github.com/sumeria/sumeria/internal/retry"
)

type stubSource struct {
	account string
	calls   atomic.Int64
	err     error
}

func (s *stubSource) AccountID() string { return s.account }

func (s *stubSource) Token(context.Context) (*oauth2.Token, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &oauth2.Token{AccessToken: "test-token", TokenType: "Bearer"}, nil
}

// fakeGmail serves a handful of Gmail endpoints. failures makes the next n
// requests answer status.
type fakeGmail struct {
	*httptest.Server

	mu       sync.Mutex
	requests int
	failures int
	status   int
	modified []gmail.ModifyMessageRequest
	sentRaw  string
	auth     string
}

func newFakeGmail(t *testing.T) *fakeGmail {
	t.Helper()
	f := &fakeGmail{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGmail) failNext(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures, f.status = n, status
}

func (f *fakeGmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeGmail) snapshot() (modified []gmail.ModifyMessageRequest, sentRaw, auth string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gmail.ModifyMessageRequest(nil), f.modified...), f.sentRaw, f.auth
}

func (f *fakeGmail) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	f.auth = r.Header.Get("Authorization")
	if f.failures > 0 {
		f.failures--
		status := f.status
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": status, "message": http.StatusText(status)},
		})
		return
	}
	f.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.HasSuffix(path, "/messages/send"):
		var msg gmail.Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		f.mu.Lock()
		f.sentRaw = msg.Raw
		f.mu.Unlock()
		writeJSON(w, gmail.Message{Id: "sent-1"})
	case strings.HasSuffix(path, "/modify"):
		var req gmail.ModifyMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.modified = append(f.modified, req)
		f.mu.Unlock()
		writeJSON(w, gmail.Message{Id: "m1"})
	case strings.HasSuffix(path, "/trash"):
		writeJSON(w, gmail.Message{Id: "m1", LabelIds: []string{"TRASH"}})
	case strings.Contains(path, "/attachments/"):
		writeJSON(w, gmail.MessagePartBody{Size: 5, Data: base64.URLEncoding.EncodeToString([]byte("hello"))})
	case strings.HasSuffix(path, "/messages"):
		writeJSON(w, gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m1"}, {Id: "m2"}}})
	case strings.Contains(path, "/messages/"):
		id := path[strings.LastIndex(path, "/")+1:]
		writeJSON(w, testMessage(id))
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testMessage(id string) *gmail.Message {
	return &gmail.Message{
		Id:       id,
		ThreadId: "t-" + id,
		Snippet:  "snippet " + id,
		LabelIds: []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "alice@example.com"},
				{Name: "To", Value: "x@y.com"},
				{Name: "Subject", Value: "Subject " + id},
				{Name: "Date", Value: "Mon, 2 Jan 2006 15:04:05 -0700"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("plain body"))}},
				{PartId: "1", Filename: "report.pdf", MimeType: "application/pdf", Body: &gmail.MessagePartBody{AttachmentId: "a1", Size: 1024}},
			},
		},
	}
}

func fastInvoker() *retry.Invoker {
	return retry.NewInvoker("gmail", retry.WithPolicy(retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	}))
}

func newTestClient(t *testing.T, srv *fakeGmail, src *stubSource) *Client {
	t.Helper()
	return NewClient(src, Options{Invoker: fastInvoker(), Endpoint: srv.URL + "/"})
}

func TestNewClient_NoIO(t *testing.T) {
	srv := newFakeGmail(t)
	src := &stubSource{account: "x@y.com"}
	c := newTestClient(t, srv, src)

	assert.Equal(t, "x@y.com", c.Account())
	assert.Equal(t, 0, srv.count())
	assert.Equal(t, int64(0), src.calls.Load())
}

func TestClient_SearchMessages(t *testing.T) {
	srv := newFakeGmail(t)
	c := newTestClient(t, srv, &stubSource{account: "x@y.com"})

	got, err := c.SearchMessages(context.Background(), "is:unread", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "alice@example.com", got[0].From)
	assert.Equal(t, "Subject m1", got[0].Subject)
	assert.True(t, got[0].Unread)
	require.Len(t, got[0].Attachments, 1)
	assert.Equal(t, "report.pdf", got[0].Attachments[0].Filename)
	_, _, auth := srv.snapshot()
	assert.Equal(t, "Bearer test-token", auth)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	srv := newFakeGmail(t)
	srv.failNext(2, http.StatusServiceUnavailable)
	c := newTestClient(t, srv, &stubSource{account: "x@y.com"})

	msg, err := c.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.Id)
	assert.Equal(t, 3, srv.count())
}

func TestClient_ExhaustsRetryBudget(t *testing.T) {
	srv := newFakeGmail(t)
	srv.failNext(10, http.StatusServiceUnavailable)
	c := newTestClient(t, srv, &stubSource{account: "x@y.com"})

	_, err := c.GetMessage(context.Background(), "m1")
	require.ErrorIs(t, err, apperr.ErrTransient)
	assert.Equal(t, 3, srv.count())

	var gerr *googleapi.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusServiceUnavailable, gerr.Code)
}

func TestClient_ClientErrorFailsFast(t *testing.T) {
	srv := newFakeGmail(t)
	srv.failNext(1, http.StatusBadRequest)
	c := newTestClient(t, srv, &stubSource{account: "x@y.com"})

	err := c.MarkAsRead(context.Background(), "m1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrTransient)
	assert.Equal(t, 1, srv.count())
}

func TestClient_CredentialErrorsAreNotRetried(t *testing.T) {
	srv := newFakeGmail(t)
	src := &stubSource{account: "x@y.com", err: apperr.ErrAuthorizationDenied}
	c := newTestClient(t, srv, src)

	_, err := c.GetMessage(context.Background(), "m1")
	require.ErrorIs(t, err, apperr.ErrAuthorizationDenied)
	assert.Equal(t, int64(1), src.calls.Load())
	assert.Equal(t, 0, srv.count())
}

func TestClient_SendMessage(t *testing.T) {
	srv := newFakeGmail(t)
	c := newTestClient(t, srv, &stubSource{account: "x@y.com"})

	id, err := c.SendMessage(context.Background(), &EmailMessage{
		To:      []string{"bob@example.com"},
		Subject: "Grüße",
		Body:    "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)

	_, sentRaw, _ := srv.snapshot()
	raw, err := base64.URLEncoding.DecodeString(sentRaw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "To: bob@example.com\r\n")
	assert.Contains(t, string(raw), "Subject: =?UTF-8?b?")
	assert.True(t, strings.HasSuffix(string(raw), "\r\n\r\nhello"))
}

func TestClient_ModifyOperations(t *testing.T) {
	srv := newFakeGmail(t)
	c := newTestClient(t, srv, &stubSource{account: "x@y.com"})
	ctx := context.Background()

	require.NoError(t, c.MarkAsRead(ctx, "m1"))
	require.NoError(t, c.MarkAsUnread(ctx, "m1"))
	require.NoError(t, c.AddLabel(ctx, "m1", "Label_7"))
	require.NoError(t, c.TrashMessage(ctx, "m1"))

	modified, _, _ := srv.snapshot()
	require.Len(t, modified, 3)
	assert.Equal(t, []string{"UNREAD"}, modified[0].RemoveLabelIds)
	assert.Equal(t, []string{"UNREAD"}, modified[1].AddLabelIds)
	assert.Equal(t, []string{"Label_7"}, modified[2].AddLabelIds)

	assert.Error(t, c.AddLabel(ctx, "m1", ""))
	assert.Error(t, c.TrashMessage(ctx, ""))
}

func TestClient_GetAttachment(t *testing.T) {
	srv := newFakeGmail(t)
	c := newTestClient(t, srv, &stubSource{account: "x@y.com"})

	data, err := c.GetAttachment(context.Background(), "m1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = c.GetAttachment(context.Background(), "m1", "")
	assert.Error(t, err)
}

func TestEmailMessage_Build(t *testing.T) {
	tests := []struct {
		name    string
		msg     EmailMessage
		wantErr bool
	}{
		{"no recipients", EmailMessage{Subject: "s", Body: "b"}, true},
		{"no subject", EmailMessage{To: []string{"a@b.c"}, Body: "b"}, true},
		{"no body", EmailMessage{To: []string{"a@b.c"}, Subject: "s"}, true},
		{"html", EmailMessage{To: []string{"a@b.c"}, Cc: []string{"c@d.e"}, Subject: "s", Body: "<p>b</p>", IsHTML: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.msg.Build()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, string(raw), "Cc: c@d.e\r\n")
			assert.Contains(t, string(raw), `Content-Type: text/html; charset="UTF-8"`)
		})
	}
}

func TestMessageBody(t *testing.T) {
	msg := testMessage("m1")

	body, err := MessageBody(msg, "")
	require.NoError(t, err)
	assert.Equal(t, "plain body", body)

	_, err = MessageBody(msg, "html")
	assert.Error(t, err)

	_, err = MessageBody(msg, "pdf")
	assert.Error(t, err)
}

func TestSummarize_Nil(t *testing.T) {
	assert.Equal(t, MessageSummary{}, Summarize(nil))
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/sumeria/sumeria/internal/accounts"
	"github.com/sumeria/sumeria/internal/google"
	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/oauth"
	"github.com/sumeria/sumeria/internal/retry"
)

const (
	// PrimaryCalendar is the calendar id of the account's main calendar.
	PrimaryCalendar = "primary"

	// DefaultMaxEvents caps ListEvents when no limit is given.
	DefaultMaxEvents = 50

	sendUpdatesAll = "all"
)

// Options configures clients built by NewClient.
type Options struct {
	// Invoker wraps every API call. Defaults to retry.NewInvoker("calendar").
	Invoker *retry.Invoker
	// Endpoint overrides the API base URL.
	Endpoint string
	// ClientOptions are appended when the service is created.
	ClientOptions []option.ClientOption
}

// Client wraps the Google Calendar service of one account.
type Client struct {
	src     google.AccountTokenSource
	invoker *retry.Invoker
	opts    []option.ClientOption

	mu  sync.Mutex
	svc *calendar.Service
}

// NewClient returns a client for the account of src. The Calendar service
// is created on first use; NewClient performs no I/O.
func NewClient(src google.AccountTokenSource, opts Options) *Client {
	inv := opts.Invoker
	if inv == nil {
		inv = retry.NewInvoker(instrumentation.ServiceCalendar)
	}
	clientOpts := append(google.ClientOptions(src, opts.Endpoint), opts.ClientOptions...)
	return &Client{src: src, invoker: inv, opts: clientOpts}
}

// Factory returns an accounts.ClientFactory building Calendar clients.
func Factory(opts Options) accounts.ClientFactory[*Client] {
	return func(h *oauth.Handler) (*Client, error) {
		return NewClient(h, opts), nil
	}
}

// Account returns the account name this client is associated with
func (c *Client) Account() string {
	return c.src.AccountID()
}

func (c *Client) service() (*calendar.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc != nil {
		return c.svc, nil
	}
	svc, err := calendar.NewService(context.Background(), c.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	c.svc = svc
	return svc, nil
}

func call[T any](ctx context.Context, c *Client, operation string, fn func(ctx context.Context, svc *calendar.Service) (T, error)) (T, error) {
	return retry.Invoke(ctx, c.invoker, operation, func(ctx context.Context) (T, error) {
		var zero T
		if _, err := c.src.Token(ctx); err != nil {
			return zero, err
		}
		svc, err := c.service()
		if err != nil {
			return zero, err
		}
		return fn(ctx, svc)
	})
}

// ListCalendars lists the calendars in the account's calendar list.
func (c *Client) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	list, err := call(ctx, c, instrumentation.OperationList, func(ctx context.Context, svc *calendar.Service) (*calendar.CalendarList, error) {
		return svc.CalendarList.List().Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	calendars := make([]CalendarInfo, 0, len(list.Items))
	for _, entry := range list.Items {
		calendars = append(calendars, toCalendarInfo(entry))
	}
	return calendars, nil
}

// ListEventsQuery selects the events returned by ListEvents.
type ListEventsQuery struct {
	CalendarID string
	TimeMin    time.Time
	TimeMax    time.Time
	Query      string
	MaxResults int64
}

// ListEvents lists events in a calendar, expanding recurring events and
// ordering by start time.
func (c *Client) ListEvents(ctx context.Context, q ListEventsQuery) ([]EventSummary, error) {
	if q.CalendarID == "" {
		q.CalendarID = PrimaryCalendar
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxEvents
	}

	events, err := call(ctx, c, instrumentation.OperationList, func(ctx context.Context, svc *calendar.Service) (*calendar.Events, error) {
		req := svc.Events.List(q.CalendarID).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(q.MaxResults)
		if !q.TimeMin.IsZero() {
			req = req.TimeMin(q.TimeMin.Format(time.RFC3339))
		}
		if !q.TimeMax.IsZero() {
			req = req.TimeMax(q.TimeMax.Format(time.RFC3339))
		}
		if q.Query != "" {
			req = req.Q(q.Query)
		}
		return req.Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	summaries := make([]EventSummary, 0, len(events.Items))
	for _, event := range events.Items {
		summaries = append(summaries, toEventSummary(event))
	}
	return summaries, nil
}

// GetEvent retrieves a specific event by ID
func (c *Client) GetEvent(ctx context.Context, calendarID, eventID string) (*EventSummary, error) {
	event, err := c.getEvent(ctx, calendarID, eventID)
	if err != nil {
		return nil, err
	}
	summary := toEventSummary(event)
	return &summary, nil
}

func (c *Client) getEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	if eventID == "" {
		return nil, errors.New("eventID is required")
	}
	if calendarID == "" {
		calendarID = PrimaryCalendar
	}
	event, err := call(ctx, c, instrumentation.OperationGet, func(ctx context.Context, svc *calendar.Service) (*calendar.Event, error) {
		return svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	return event, nil
}

// CreateEvent creates a new calendar event and notifies attendees.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, input EventInput) (*EventSummary, error) {
	if input.Summary == "" {
		return nil, errors.New("summary is required")
	}
	if input.Start.IsZero() || input.End.IsZero() {
		return nil, errors.New("start and end are required")
	}
	if input.End.Before(input.Start) {
		return nil, errors.New("end must not be before start")
	}
	if calendarID == "" {
		calendarID = PrimaryCalendar
	}

	event := &calendar.Event{}
	input.apply(event)

	created, err := call(ctx, c, instrumentation.OperationCreate, func(ctx context.Context, svc *calendar.Service) (*calendar.Event, error) {
		return svc.Events.Insert(calendarID, event).SendUpdates(sendUpdatesAll).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	summary := toEventSummary(created)
	return &summary, nil
}

// UpdateEvent applies the set fields of input to an existing event and
// notifies attendees.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, input EventInput) (*EventSummary, error) {
	if calendarID == "" {
		calendarID = PrimaryCalendar
	}
	existing, err := c.getEvent(ctx, calendarID, eventID)
	if err != nil {
		return nil, err
	}
	input.apply(existing)

	updated, err := call(ctx, c, instrumentation.OperationUpdate, func(ctx context.Context, svc *calendar.Service) (*calendar.Event, error) {
		return svc.Events.Update(calendarID, eventID, existing).SendUpdates(sendUpdatesAll).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update event %s: %w", eventID, err)
	}
	summary := toEventSummary(updated)
	return &summary, nil
}

// DeleteEvent deletes an event and notifies attendees.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if eventID == "" {
		return errors.New("eventID is required")
	}
	if calendarID == "" {
		calendarID = PrimaryCalendar
	}
	err := c.invoker.Run(ctx, instrumentation.OperationDelete, func(ctx context.Context) error {
		if _, err := c.src.Token(ctx); err != nil {
			return err
		}
		svc, err := c.service()
		if err != nil {
			return err
		}
		return svc.Events.Delete(calendarID, eventID).SendUpdates(sendUpdatesAll).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	return nil
}

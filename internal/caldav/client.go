package caldav

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-webdav/caldav"

	appLog "statical/internal/log"
	"statical/internal/model"
)

// Client reads events from a CalDAV server for one configured source.
type Client struct {
	sourceID string
	baseURL  string
	username string
	password string
	// calendar is the collection path; when empty every calendar of the
	// principal is queried.
	calendar   string
	defaultLoc *time.Location
	timeout    time.Duration
	client     *caldav.Client
}

// Options configures a Client.
type Options struct {
	SourceID   string
	BaseURL    string
	Username   string
	Password   string
	Calendar   string
	DefaultLoc *time.Location
	Timeout    time.Duration
}

// NewClient creates a CalDAV client. The connection is established lazily.
func NewClient(opts Options) *Client {
	if opts.DefaultLoc == nil {
		opts.DefaultLoc = time.UTC
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		sourceID:   opts.SourceID,
		baseURL:    opts.BaseURL,
		username:   opts.Username,
		password:   opts.Password,
		calendar:   opts.Calendar,
		defaultLoc: opts.DefaultLoc,
		timeout:    opts.Timeout,
	}
}

func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{username: c.username, password: c.password},
		Timeout:   c.timeout,
	}
	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}
	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests.
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" {
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.username, t.password)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// calendars returns the collection paths to query.
func (c *Client) calendars(ctx context.Context, client *caldav.Client) ([]string, error) {
	if c.calendar != "" {
		return []string{c.calendar}, nil
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	paths := make([]string, 0, len(cals))
	for _, cal := range cals {
		paths = append(paths, cal.Path)
	}
	return paths, nil
}

// Records queries VEVENTs overlapping window and converts them into event
// records. Objects that fail to convert are skipped and returned as errors
// alongside the records.
func (c *Client) Records(ctx context.Context, window model.TimeRange) ([]model.EventRecord, []error, error) {
	client, err := c.connect()
	if err != nil {
		return nil, nil, err
	}

	paths, err := c.calendars(ctx, client)
	if err != nil {
		return nil, nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: window.Start,
				End:   window.End,
			}},
		},
	}

	var (
		records []model.EventRecord
		skipped []error
	)
	for _, path := range paths {
		objects, err := client.QueryCalendar(ctx, path, query)
		if err != nil {
			return nil, nil, fmt.Errorf("query calendar %s: %w", path, err)
		}
		for i := range objects {
			recs, errs := convertObject(c.sourceID, &objects[i], c.defaultLoc)
			records = append(records, recs...)
			skipped = append(skipped, errs...)
		}
		appLog.Info("caldav query completed", "id", c.sourceID, "calendar", path, "objects", len(objects))
	}

	return records, skipped, nil
}

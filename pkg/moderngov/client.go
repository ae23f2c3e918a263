// Package moderngov talks to the SOAP web service that ModernGov democracy
// portals expose at /mgWebService.asmx.
//
// Results are XML documents carried as strings inside the SOAP envelope, so
// every response is decoded twice.
package moderngov

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

const (
	service   = "moderngov"
	soapNS    = "http://tempuri.org/"
	userAgent = "TendHunt/1.0 (procurement data platform)"
	// DateLayout is the dd/MM/yyyy format the service expects.
	DateLayout = "02/01/2006"
)

// Meeting is one committee meeting.
type Meeting struct {
	ID            int
	CommitteeID   int
	CommitteeName string
	Date          string
	Title         string
	Location      string
}

// Committee is one committee of the authority.
type Committee struct {
	ID   int
	Name string
	Type string
}

// Client defines the ModernGov operations used by the pipeline.
type Client interface {
	// TestConnection reports whether the portal answers SOAP calls.
	TestConnection(ctx context.Context, baseURL string) error
	GetCommittees(ctx context.Context, baseURL string) ([]Committee, error)
	GetMeetings(ctx context.Context, baseURL string, from, to time.Time) ([]Meeting, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeouts sets the connection-test and meetings-call timeouts.
func WithTimeouts(connect, meetings time.Duration) Option {
	return func(c *httpClient) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if meetings > 0 {
			c.meetingsTimeout = meetings
		}
	}
}

type httpClient struct {
	http            *http.Client
	connectTimeout  time.Duration
	meetingsTimeout time.Duration
}

// NewClient creates a ModernGov SOAP client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		http:            &http.Client{},
		connectTimeout:  5 * time.Second,
		meetingsTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the SOAP endpoint for a portal base URL.
func Endpoint(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/mgWebService.asmx"
}

// DocumentURL returns the PDF conversion URL for a meeting.
func DocumentURL(baseURL string, meetingID int) string {
	return fmt.Sprintf("%s/mgConvert2PDF.aspx?ID=%d", strings.TrimRight(baseURL, "/"), meetingID)
}

func envelope(body string) []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>` + body + `</soap:Body>
</soap:Envelope>`)
}

func (c *httpClient) call(ctx context.Context, baseURL, action, body string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, Endpoint(baseURL), bytes.NewReader(envelope(body)))
	if err != nil {
		return nil, eris.Wrap(err, "moderngov: create request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapNS+action)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewExternalError(service, resilience.Typed(err), eris.Wrapf(err, "moderngov: %s", action))
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "moderngov: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus(service, resp.StatusCode, string(data))
	}
	return data, nil
}

const committeesBody = `<GetCommitteesByUser xmlns="http://tempuri.org/"><lUserID>0</lUserID></GetCommitteesByUser>`

func (c *httpClient) TestConnection(ctx context.Context, baseURL string) error {
	_, err := c.call(ctx, baseURL, "GetCommitteesByUser", committeesBody, c.connectTimeout)
	return err
}

type committeesEnvelope struct {
	Result string `xml:"Body>GetCommitteesByUserResponse>GetCommitteesByUserResult"`
}

type committeesDoc struct {
	Committees []struct {
		AttrID string `xml:"id,attr"`
		ID     string `xml:"Id"`
		Name   string `xml:"Name"`
		Type   string `xml:"Type"`
	} `xml:"Committee"`
}

func (c *httpClient) GetCommittees(ctx context.Context, baseURL string) ([]Committee, error) {
	data, err := c.call(ctx, baseURL, "GetCommitteesByUser", committeesBody, c.meetingsTimeout)
	if err != nil {
		return nil, err
	}
	var env committeesEnvelope
	if err := decode(data, &env); err != nil {
		return nil, err
	}
	if strings.TrimSpace(env.Result) == "" {
		return nil, nil
	}
	var doc committeesDoc
	if err := decode([]byte(env.Result), &doc); err != nil {
		return nil, err
	}
	out := make([]Committee, 0, len(doc.Committees))
	for _, rc := range doc.Committees {
		out = append(out, Committee{
			ID:   firstInt(rc.AttrID, rc.ID),
			Name: firstNonEmpty(rc.Name, "Unknown"),
			Type: rc.Type,
		})
	}
	return out, nil
}

type meetingsEnvelope struct {
	Result string `xml:"Body>GetMeetingsResponse>GetMeetingsResult"`
}

type meetingsDoc struct {
	Meetings []struct {
		AttrID        string `xml:"id,attr"`
		ID            string `xml:"Id"`
		CommitteeID   string `xml:"CommitteeId"`
		CommitteeName string `xml:"CommitteeName"`
		Date          string `xml:"Date"`
		Title         string `xml:"Title"`
		Location      string `xml:"Location"`
	} `xml:"Meeting"`
}

func (c *httpClient) GetMeetings(ctx context.Context, baseURL string, from, to time.Time) ([]Meeting, error) {
	body := fmt.Sprintf(`<GetMeetings xmlns="http://tempuri.org/"><sStartDate>%s</sStartDate><sEndDate>%s</sEndDate></GetMeetings>`,
		from.Format(DateLayout), to.Format(DateLayout))
	data, err := c.call(ctx, baseURL, "GetMeetings", body, c.meetingsTimeout)
	if err != nil {
		return nil, err
	}
	var env meetingsEnvelope
	if err := decode(data, &env); err != nil {
		return nil, err
	}
	if strings.TrimSpace(env.Result) == "" {
		return nil, nil
	}
	var doc meetingsDoc
	if err := decode([]byte(env.Result), &doc); err != nil {
		return nil, err
	}

	out := make([]Meeting, 0, len(doc.Meetings))
	for _, m := range doc.Meetings {
		name := firstNonEmpty(m.CommitteeName, "Unknown")
		out = append(out, Meeting{
			ID:            firstInt(m.AttrID, m.ID),
			CommitteeID:   firstInt(m.CommitteeID),
			CommitteeName: name,
			Date:          strings.TrimSpace(m.Date),
			Title:         firstNonEmpty(m.Title, m.CommitteeName, "Meeting"),
			Location:      m.Location,
		})
	}
	return out, nil
}

func decode(data []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, eris.Wrapf(err, "moderngov: unsupported charset %q", label)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	if err := dec.Decode(v); err != nil {
		return resilience.NewExternalError(service, model.ErrParse, eris.Wrap(err, "moderngov: decode response"))
	}
	return nil
}

var meetingLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ParseMeetingDate parses the date formats ModernGov portals return.
func ParseMeetingDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range meetingLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstInt(vals ...string) int {
	for _, v := range vals {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n != 0 {
			return n
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

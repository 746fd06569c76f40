package prioritylinesdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Priorityline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Priority is a classified priority as returned by the list endpoint.
type Priority struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Order        int        `json:"order"`
	FromAt       time.Time  `json:"fromAt"`
	UntilAt      time.Time  `json:"untilAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	CanceledAt   *time.Time `json:"canceledAt,omitempty"`
	Month        int        `json:"month"`
	Year         int        `json:"year"`
	Status       string     `json:"status"`
	PositionID   string     `json:"positionId"`
	ObjectiveID  *string    `json:"objectiveId,omitempty"`
	IsActive     bool       `json:"isActive"`
	MonthlyClass string     `json:"monthlyClass"`
	Compliance   string     `json:"compliance"`
}

// Buckets are the per-class counters behind an ICP figure.
type Buckets struct {
	NotCompletedPreviousMonths int `json:"notCompletedPreviousMonths"`
	NotCompletedOverdue        int `json:"notCompletedOverdue"`
	InProgress                 int `json:"inProgress"`
	CompletedPreviousMonths    int `json:"completedPreviousMonths"`
	CompletedLate              int `json:"completedLate"`
	CompletedInOtherMonth      int `json:"completedInOtherMonth"`
	CompletedOnTime            int `json:"completedOnTime"`
	Canceled                   int `json:"canceled"`
	CompletedEarly             int `json:"completedEarly"`
}

// ICP is one month's compliance figure.
type ICP struct {
	Month          int     `json:"month"`
	Year           int     `json:"year"`
	PositionID     *string `json:"positionId,omitempty"`
	ObjectiveID    *string `json:"objectiveId,omitempty"`
	TotalPlanned   int     `json:"totalPlanned"`
	TotalCompleted int     `json:"totalCompleted"`
	ICP            float64 `json:"icp"`
	Buckets
}

type PriorityPage struct {
	Items []Priority `json:"items"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
	ICP   *ICP       `json:"icp,omitempty"`
}

type Series struct {
	PositionID  *string `json:"positionId"`
	ObjectiveID *string `json:"objectiveId,omitempty"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Items       []ICP   `json:"items"`
}

// Query selects a period and scope. Zero values are omitted.
type Query struct {
	Month       int
	Year        int
	PositionID  string
	ObjectiveID string
	Page        int
	Limit       int
}

func (q Query) values() url.Values {
	v := url.Values{}
	setInt := func(k string, n int) {
		if n != 0 {
			v.Set(k, strconv.Itoa(n))
		}
	}
	setInt("month", q.Month)
	setInt("year", q.Year)
	setInt("page", q.Page)
	setInt("limit", q.Limit)
	if q.PositionID != "" {
		v.Set("positionId", q.PositionID)
	}
	if q.ObjectiveID != "" {
		v.Set("objectiveId", q.ObjectiveID)
	}
	return v
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListPriorities returns one page of classified priorities with the period ICP.
func (c *Client) ListPriorities(ctx context.Context, q Query) (PriorityPage, error) {
	var resp PriorityPage
	err := c.get(ctx, "priorities", q.values(), &resp)
	return resp, err
}

// GetICP returns the ICP for one month.
func (c *Client) GetICP(ctx context.Context, q Query) (ICP, error) {
	q.Page, q.Limit = 0, 0
	var resp ICP
	err := c.get(ctx, "priorities/icp", q.values(), &resp)
	return resp, err
}

// GetICPSeries returns monthly ICP items for from..to (YYYY-MM, both optional).
func (c *Client) GetICPSeries(ctx context.Context, from, to, positionID, objectiveID string) (Series, error) {
	v := Query{PositionID: positionID, ObjectiveID: objectiveID}.values()
	if from != "" {
		v.Set("from", from)
	}
	if to != "" {
		v.Set("to", to)
	}
	var resp Series
	err := c.get(ctx, "priorities/icp/series", v, &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"attendflow/internal/attendance"
)

const maxBody = 4 << 20

var errTooLarge = fmt.Errorf("response exceeds %d bytes", maxBody)

// Client calls the institutional attendance REST backend.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a client. timeout bounds every request; zero means 15s.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

var (
	_ attendance.Backend    = (*Client)(nil)
	_ attendance.Dispatcher = (*Client)(nil)
)

// ListStudents fetches every student record.
func (c *Client) ListStudents(ctx context.Context) ([]attendance.Record, error) {
	body, err := c.do(ctx, http.MethodGet, "/students", nil)
	if err != nil {
		return nil, err
	}
	return decodeStudents(body)
}

// SearchStudents runs the backend's own name/roll search.
func (c *Client) SearchStudents(ctx context.Context, query string) ([]attendance.Record, error) {
	body, err := c.do(ctx, http.MethodGet, "/students/search?query="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	return decodeStudents(body)
}

// UpdateStatus persists a status transition and returns the stored record.
func (c *Client) UpdateStatus(ctx context.Context, change attendance.StatusChange) (attendance.Record, error) {
	body, err := c.do(ctx, http.MethodPut, studentPath(change.ID)+"/status", change)
	if err != nil {
		return attendance.Record{}, err
	}
	return decodeStudent(body)
}

// UpdateStudent persists the full record and returns the stored one.
func (c *Client) UpdateStudent(ctx context.Context, record attendance.Record) (attendance.Record, error) {
	body, err := c.do(ctx, http.MethodPut, studentPath(record.ID), record)
	if err != nil {
		return attendance.Record{}, err
	}
	return decodeStudent(body)
}

// CreateStudent adds a student to the registry. The backend assigns the id.
func (c *Client) CreateStudent(ctx context.Context, record attendance.Record) (attendance.Record, error) {
	body, err := c.do(ctx, http.MethodPost, "/students", newStudent{
		Name:              record.Name,
		Roll:              record.Roll,
		StudentClass:      record.StudentClass,
		Status:            record.Status,
		Time:              record.Time,
		ParentPhoneNumber: record.ParentPhoneNumber,
	})
	if err != nil {
		return attendance.Record{}, err
	}
	rec, err := decodeStudent(body)
	if err != nil {
		return attendance.Record{}, err
	}
	if rec.ID == "" {
		return attendance.Record{}, malformedError(body, errMissingID)
	}
	return rec, nil
}

// NotifyIndividual asks the backend to message one student's parent.
func (c *Client) NotifyIndividual(ctx context.Context, record attendance.Record) (attendance.Ack, error) {
	body, err := c.do(ctx, http.MethodPost, "/sms/send-individual", record)
	if err != nil {
		return attendance.Ack{}, err
	}
	return decodeAck(body)
}

// NotifyBulk asks the backend to message the parents of every record given.
func (c *Client) NotifyBulk(ctx context.Context, records []attendance.Record) (attendance.Ack, error) {
	body, err := c.do(ctx, http.MethodPost, "/sms/send-bulk", records)
	if err != nil {
		return attendance.Ack{}, err
	}
	return decodeAck(body)
}

// decodeAck accepts a JSON acknowledgement or a plain text message. A JSON
// acknowledgement with success=false is a rejection.
func decodeAck(body []byte) (attendance.Ack, error) {
	text := strings.TrimSpace(string(body))
	if !strings.HasPrefix(text, "{") {
		return attendance.Ack{Success: true, Message: text}, nil
	}
	var ack attendance.Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return attendance.Ack{}, malformedError(body, err)
	}
	if !ack.Success {
		msg := ack.Message
		if msg == "" {
			msg = "notification was not sent"
		}
		return ack, &Error{Kind: KindRejected, StatusCode: http.StatusOK, Message: msg}
	}
	return ack, nil
}

// Login checks credentials against the backend.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return User{}, err
	}
	var w wireUser
	if err := json.Unmarshal(body, &w); err != nil {
		return User{}, malformedError(body, err)
	}
	return w.user(), nil
}

// Register creates an account. Student accounts also get a registry entry on
// the backend.
func (c *Client) Register(ctx context.Context, reg Registration) (User, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/register", reg)
	if err != nil {
		return User{}, err
	}
	var w wireUser
	if err := json.Unmarshal(body, &w); err != nil {
		return User{}, malformedError(body, err)
	}
	return w.user(), nil
}

// ForgotPassword starts account recovery for email and returns the backend's
// confirmation text.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email})
	if err != nil {
		return "", err
	}
	return bodyMessage(body), nil
}

// Users lists every account.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	body, err := c.do(ctx, http.MethodGet, "/auth/users", nil)
	if err != nil {
		return nil, err
	}
	var wire []wireUser
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, malformedError(body, err)
	}
	users := make([]User, len(wire))
	for i, w := range wire {
		users[i] = w.user()
	}
	return users, nil
}

// DeleteAccount removes the account with the given id.
func (c *Client) DeleteAccount(ctx context.Context, userID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/auth/delete/"+url.PathEscape(userID), nil)
	return err
}

// Health checks that the backend answers.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/students", nil)
	return err
}

func studentPath(id string) string {
	return "/students/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/plain")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, transportError(err)
	}
	if len(body) > maxBody {
		return nil, &Error{Kind: KindMalformed, StatusCode: resp.StatusCode, Message: "response too large", Err: errTooLarge}
	}
	if resp.StatusCode >= 300 {
		return nil, rejectedError(resp.StatusCode, body)
	}
	return body, nil
}

// internal/clients/library_client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libraryapi/internal/apperror"
	"libraryapi/internal/circulation"
	"libraryapi/internal/httpapi/render"
	"libraryapi/internal/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LibraryClient talks to the loan and penalty routes of the library API.
// Non-2xx responses come back as *apperror.Error of the matching kind.
// Throttled requests (429) are retried after the server's Retry-After.
type LibraryClient struct {
	baseURL       string
	httpClient    *http.Client
	maxThrottled  int
	throttleDelay time.Duration
}

type Option func(*LibraryClient)

// WithThrottleRetries sets how many times a 429 response is retried before
// it is returned as a RateLimited error. Zero disables retrying.
func WithThrottleRetries(retries int) Option {
	return func(c *LibraryClient) {
		if retries >= 0 {
			c.maxThrottled = retries
		}
	}
}

func NewLibraryClient(baseURL string, httpClient *http.Client, options ...Option) *LibraryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c := &LibraryClient{
		baseURL:       baseURL,
		httpClient:    httpClient,
		maxThrottled:  10,
		throttleDelay: time.Second,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *LibraryClient) CreateLoan(ctx context.Context, req circulation.CreateLoanRequest) (*library.Loan, error) {
	body := struct {
		BookCopyID     int64  `json:"bookCopyId"`
		MemberIDNumber string `json:"memberIdNumber"`
		HowManyDays    int    `json:"howManyDays"`
	}{req.BookCopyID, req.MemberIDNumber, req.HowManyDays}

	var loan library.Loan
	if err := c.confirm(ctx, http.MethodPost, fmt.Sprintf("/loans/%s", req.EmployeeID), body, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *LibraryClient) UpdateLoanStatus(ctx context.Context, loanID int64, employeeID uuid.UUID, status library.LoanStatus) (*circulation.ReturnResult, error) {
	body := struct {
		EmployeeID string `json:"employeeId"`
		LoanStatus string `json:"loanStatus"`
	}{employeeID.String(), status.String()}

	var result circulation.ReturnResult
	if err := c.confirm(ctx, http.MethodPut, fmt.Sprintf("/loans/%d", loanID), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *LibraryClient) ReturnBook(ctx context.Context, loanID int64) (*circulation.ReturnResult, error) {
	var result circulation.ReturnResult
	if err := c.confirm(ctx, http.MethodPatch, fmt.Sprintf("/loans/%d/return", loanID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *LibraryClient) GetLoan(ctx context.Context, loanID int64) (*circulation.LoanView, error) {
	var view circulation.LoanView
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/loans/%d", loanID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *LibraryClient) LoansByMember(ctx context.Context, memberID uuid.UUID) ([]*circulation.LoanView, error) {
	var views []*circulation.LoanView
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/loans/member/%s", memberID), nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *LibraryClient) LoansByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*circulation.LoanView, error) {
	var views []*circulation.LoanView
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/loans/employee/%s", employeeID), nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *LibraryClient) LoanTransactions(ctx context.Context, loanID int64) ([]*circulation.TransactionView, error) {
	var views []*circulation.TransactionView
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/loans/%d/transactions", loanID), nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *LibraryClient) GetPenalty(ctx context.Context, id int64) (*library.Penalty, error) {
	var penalty library.Penalty
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/penalties/%d", id), nil, &penalty); err != nil {
		return nil, err
	}
	return &penalty, nil
}

func (c *LibraryClient) PenaltiesByMember(ctx context.Context, memberID uuid.UUID) ([]*library.Penalty, error) {
	var penalties []*library.Penalty
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/penalties/member/%s", memberID), nil, &penalties); err != nil {
		return nil, err
	}
	return penalties, nil
}

// confirm calls a mutation endpoint and unwraps the data of its
// confirmation message into out.
func (c *LibraryClient) confirm(ctx context.Context, method, path string, in, out any) error {
	var msg struct {
		Message string              `json:"message"`
		Data    jsoniter.RawMessage `json:"data"`
	}
	if err := c.do(ctx, method, path, in, &msg); err != nil {
		return err
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("decode %q data: %w", msg.Message, err)
	}
	return nil
}

func (c *LibraryClient) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		status, body, retryAfter, err := c.send(ctx, method, path, payload)
		if err != nil {
			return err
		}

		if status == http.StatusTooManyRequests && attempt < c.maxThrottled {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
			case <-time.After(retryAfter):
			}
			continue
		}

		if status < 200 || status > 299 {
			return decodeError(status, body)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}

// send performs one request and returns the status, the body and how long
// the server asked to wait before retrying.
func (c *LibraryClient) send(ctx context.Context, method, path string, payload []byte) (int, []byte, time.Duration, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("read response: %w", err)
	}

	retryAfter := c.throttleDelay
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds >= 0 {
		retryAfter = time.Duration(seconds) * time.Second
	}
	return resp.StatusCode, respBody, retryAfter, nil
}

// decodeError turns an error body back into an *apperror.Error. A 400 with
// validation errors is a Validation error; any other 400 is an
// InvalidOperation.
func decodeError(status int, payload []byte) error {
	var details render.ErrorDetails
	if err := json.Unmarshal(payload, &details); err != nil || details.Message == "" {
		details.Message = http.StatusText(status)
	}

	appErr := &apperror.Error{Message: details.Message, Fields: details.ValidationErrors}
	switch {
	case status == http.StatusNotFound:
		appErr.Kind = apperror.KindNotFound
	case status == http.StatusBadRequest && len(details.ValidationErrors) > 0:
		appErr.Kind = apperror.KindValidation
	case status == http.StatusBadRequest:
		appErr.Kind = apperror.KindInvalidOperation
	case status == http.StatusConflict:
		appErr.Kind = apperror.KindConflict
	case status == http.StatusTooManyRequests:
		appErr.Kind = apperror.KindRateLimited
	default:
		return fmt.Errorf("unexpected status code %d: %s", status, details.Message)
	}
	return appErr
}

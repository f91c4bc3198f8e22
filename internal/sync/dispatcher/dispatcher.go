// Package dispatcher turns one queued operation into one remote API call.
//
// It is a single-attempt transport shim: retry policy lives entirely in the
// scheduler, and every non-2xx response is surfaced as an error so the
// scheduler's failure path runs. Server rejections and transport failures
// are not distinguished; both consume retry budget alike.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/kimhsiao/taskdeck/backend/internal/errors"
	"github.com/kimhsiao/taskdeck/backend/internal/models"
)

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 4096

// Dispatcher shapes operations into calls against the TaskDeck REST API.
type Dispatcher struct {
	client  *http.Client
	baseURL string
}

// New creates a Dispatcher targeting baseURL. A nil client uses an
// http.Client without a timeout: a hung call hangs the queue until the
// transport gives up, matching the serial delivery contract.
func New(baseURL string, client *http.Client) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// DispatchError carries the HTTP status of a rejected call so callers could
// distinguish rejection classes later; the scheduler currently does not.
type DispatchError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote returned %d", e.StatusCode)
}

// Dispatch performs exactly one outbound call for op.
func (d *Dispatcher) Dispatch(ctx context.Context, op *models.Operation) error {
	method, target, err := d.route(op)
	if err != nil {
		return err
	}

	var body io.Reader
	if method != http.MethodDelete && len(op.Payload) > 0 {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDispatchFailed, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Lets the backend drop duplicate deliveries of the same operation
	req.Header.Set("X-Operation-Id", string(op.ID))

	resp, err := d.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDispatchFailed, "remote call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return &DispatchError{
		StatusCode: resp.StatusCode,
		Message:    readErrorMessage(resp.Body),
	}
}

// route maps (entityType, kind) to the remote address and verb.
func (d *Dispatcher) route(op *models.Operation) (method, target string, err error) {
	var collection string
	switch op.EntityType {
	case models.EntityTask:
		collection = fmt.Sprintf("%s/api/workspaces/%s/tasks", d.baseURL, url.PathEscape(op.OwnerScope))
	case models.EntityComment:
		collection = fmt.Sprintf("%s/api/workspaces/%s/comments", d.baseURL, url.PathEscape(op.OwnerScope))
	case models.EntityWorkspace:
		collection = d.baseURL + "/api/workspaces"
	default:
		return "", "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unroutable entity type %q", op.EntityType))
	}

	item := collection + "/" + url.PathEscape(op.EntityID)

	switch op.Kind {
	case models.OperationCreate:
		// The client pre-assigns the entity id, so creates go to the
		// collection with the id carried in the payload.
		return http.MethodPost, collection, nil
	case models.OperationUpdate:
		return http.MethodPatch, item, nil
	case models.OperationDelete:
		return http.MethodDelete, item, nil
	default:
		return "", "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unroutable operation kind %q", op.Kind))
	}
}

// readErrorMessage extracts a structured error body when the server sent
// one, falling back to the raw text.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &structured) == nil {
		if structured.Error != "" {
			return structured.Error
		}
		if structured.Message != "" {
			return structured.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

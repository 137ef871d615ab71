package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

// ErrRoomAlreadyExists is returned by room creation when an equivalent
// room already exists. Callers redirect into the existing room instead
// of reporting a failure.
var ErrRoomAlreadyExists = errors.New("room already exists")

// Error is a REST failure with the server's status and error body.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Config holds REST client configuration.
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a REST client for the chat backend.
func NewClient(cfg Config, logger zerolog.Logger) Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: log.NewRoundTripper(nil, logger),
		},
	}
}

// do performs a JSON request and decodes the response into out when
// out is non-nil. Status >= 400 becomes an *Error.
func (c *httpClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *httpClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(status int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &errResp)
	if errResp.Message == "" {
		errResp.Message = string(body)
	}
	return &Error{Status: status, Code: errResp.Code, Message: errResp.Message}
}

func (c *httpClient) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var resp struct {
		Rooms []domain.Room `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/rooms/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *httpClient) GetRoom(ctx context.Context, roomID int64) (*domain.Room, []domain.Member, error) {
	var resp struct {
		Room    domain.Room     `json:"room"`
		Members []domain.Member `json:"members"`
	}
	path := fmt.Sprintf("/api/chat/rooms/%d/", roomID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, nil, err
	}
	return &resp.Room, resp.Members, nil
}

func (c *httpClient) MarkRoomRead(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/api/chat/rooms/%d/read/", roomID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *httpClient) ListMessages(ctx context.Context, roomID int64, page, pageSize int) ([]domain.Message, error) {
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/chat/rooms/%d/messages/?page=%d&page_size=%d&ordering=-created_at", roomID, page, pageSize)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *httpClient) LatestMessage(ctx context.Context, roomID int64) (*domain.Message, error) {
	var resp struct {
		Message *domain.Message `json:"message"`
	}
	path := fmt.Sprintf("/api/chat/rooms/%d/messages/latest/", roomID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *httpClient) SendTextMessage(ctx context.Context, roomID int64, content, clientToken string) (*domain.Message, error) {
	req := struct {
		Kind        domain.ContentKind `json:"kind"`
		Content     string             `json:"content"`
		ClientToken string             `json:"client_token,omitempty"`
	}{domain.ContentKindText, content, clientToken}

	var msg domain.Message
	path := fmt.Sprintf("/api/chat/rooms/%d/messages/", roomID)
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *httpClient) SendAttachmentMessage(ctx context.Context, roomID int64, kind domain.ContentKind, url string, attachmentID int64, clientToken string) (*domain.Message, error) {
	req := struct {
		Kind         domain.ContentKind `json:"kind"`
		Content      string             `json:"content"`
		AttachmentID int64              `json:"attachment_id"`
		ClientToken  string             `json:"client_token,omitempty"`
	}{kind, url, attachmentID, clientToken}

	var msg domain.Message
	path := fmt.Sprintf("/api/chat/rooms/%d/messages/", roomID)
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *httpClient) UploadAttachment(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/attachments/", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, respBody)
	}

	var result UploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &result, nil
}

func (c *httpClient) CreateDirectRoom(ctx context.Context, userID int64) (*domain.Room, error) {
	req := struct {
		UserID int64 `json:"user_id"`
	}{userID}

	var room domain.Room
	if err := c.do(ctx, http.MethodPost, "/api/chat/rooms/direct/", req, &room); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil, ErrRoomAlreadyExists
		}
		return nil, err
	}
	return &room, nil
}

func (c *httpClient) CreateGroupRoom(ctx context.Context, title, pictureURL string) (*domain.Room, error) {
	req := struct {
		Title      string `json:"title"`
		PictureURL string `json:"picture_url,omitempty"`
	}{title, pictureURL}

	var room domain.Room
	if err := c.do(ctx, http.MethodPost, "/api/chat/rooms/group/", req, &room); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil, ErrRoomAlreadyExists
		}
		return nil, err
	}
	return &room, nil
}

// Package atelier provides a client for the Atelier messaging and call
// signaling API. The client is transport-thin: it carries the bearer
// token and round-trips JSON; live updates come over the WebSocket.
package atelier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is an Atelier API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new Atelier client. The token authenticates every
// request; leave it empty for public endpoints only.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request.
func (c *Client) doRequest(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("atelier error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

func (c *Client) get(path string, out interface{}) error {
	respBody, err := c.doRequest("GET", path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) post(path string, req, out interface{}) error {
	var body []byte
	if req != nil {
		body, _ = json.Marshal(req)
	}
	respBody, err := c.doRequest("POST", path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Profile represents a community member.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetProfile fetches a member's profile.
func (c *Client) GetProfile(id string) (*Profile, error) {
	var resp Profile
	if err := c.get("/profiles/"+id, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchProfilesResponse is the response from profile search.
type SearchProfilesResponse struct {
	Profiles []Profile `json:"profiles"`
}

// SearchProfiles searches members by display name.
func (c *Client) SearchProfiles(query string, limit int) (*SearchProfilesResponse, error) {
	path := fmt.Sprintf("/profiles?q=%s", url.QueryEscape(query))
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}
	var resp SearchProfilesResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Conversation pairs two participants.
type Conversation struct {
	ID            string    `json:"id"`
	ParticipantA  string    `json:"participant_a"`
	ParticipantB  string    `json:"participant_b"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Message is one conversation entry.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	Read           bool   `json:"read"`
	Timestamp      int64  `json:"ts"`
}

// ConversationView is a conversation with its preview decorations.
type ConversationView struct {
	Conversation Conversation `json:"conversation"`
	Counterpart  *Profile     `json:"counterpart,omitempty"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int64        `json:"unread_count"`
}

// ListConversationsResponse is the conversation list response.
type ListConversationsResponse struct {
	Conversations []ConversationView `json:"conversations"`
}

// ListConversations lists the actor's conversations, most recent first.
func (c *Client) ListConversations() (*ListConversationsResponse, error) {
	var resp ListConversationsResponse
	if err := c.get("/conversations", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateConversation returns the conversation with a member, creating it
// on first use.
func (c *Client) CreateConversation(participantID string) (*Conversation, error) {
	req := map[string]string{"participant_id": participantID}
	var resp Conversation
	if err := c.post("/conversations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConversation fetches one conversation's decorated view.
func (c *Client) GetConversation(id string) (*ConversationView, error) {
	var resp ConversationView
	if err := c.get("/conversations/"+id, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMessagesResponse is the message history response.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// ListMessages fetches history in ascending order. limit <= 0 loads the
// full history; before pages backwards from the newest message id.
func (c *Client) ListMessages(conversationID string, limit int, before string) (*ListMessagesResponse, error) {
	path := "/conversations/" + conversationID + "/messages"
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	if before != "" {
		query.Set("before", before)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp ListMessagesResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Body           string `json:"body"`
	Kind           string `json:"kind,omitempty"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
}

// SendMessage appends a message to a conversation.
func (c *Client) SendMessage(conversationID string, req SendMessageRequest) (*Message, error) {
	var resp Message
	if err := c.post("/conversations/"+conversationID+"/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkReadResponse reports how many messages flipped to read.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// MarkRead marks a conversation's unread counterpart messages as read.
func (c *Client) MarkRead(conversationID string) (*MarkReadResponse, error) {
	var resp MarkReadResponse
	if err := c.post("/conversations/"+conversationID+"/read", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Call is a voice or video call record.
type Call struct {
	ID        string     `json:"id"`
	CallerID  string     `json:"caller_id"`
	Recipient string     `json:"recipient_id"`
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Duration  int        `json:"duration_seconds,omitempty"`
}

// InitiateCallResponse carries the new call and the recipient's profile.
type InitiateCallResponse struct {
	Call      *Call    `json:"call"`
	Recipient *Profile `json:"recipient"`
}

// InitiateCall starts a ringing call.
func (c *Client) InitiateCall(recipientID, kind string) (*InitiateCallResponse, error) {
	req := map[string]string{"recipient_id": recipientID, "kind": kind}
	var resp InitiateCallResponse
	if err := c.post("/calls", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCall fetches a call record.
func (c *Client) GetCall(id string) (*Call, error) {
	var resp Call
	if err := c.get("/calls/"+id, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AcceptCall answers a ringing call.
func (c *Client) AcceptCall(id string) (*Call, error) {
	var resp Call
	if err := c.post("/calls/"+id+"/accept", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RejectCall declines a ringing call.
func (c *Client) RejectCall(id string) (*Call, error) {
	var resp Call
	if err := c.post("/calls/"+id+"/reject", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EndCall hangs up.
func (c *Client) EndCall(id string) (*Call, error) {
	var resp Call
	if err := c.post("/calls/"+id+"/end", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Signal relays an opaque peer-connection payload to the other party.
func (c *Client) Signal(callID, signalType string, payload json.RawMessage) error {
	req := map[string]interface{}{"type": signalType, "payload": payload}
	return c.post("/calls/"+callID+"/signal", req, nil)
}

// Notification is an in-app notification.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	Read      bool      `json:"read"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListNotificationsResponse is the notification list response.
type ListNotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

// ListNotifications lists the actor's notifications, newest first.
func (c *Client) ListNotifications(limit int) (*ListNotificationsResponse, error) {
	path := "/notifications"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp ListNotificationsResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(id string) error {
	return c.post("/notifications/"+id+"/read", nil, nil)
}

// PresenceState is one member's announced presence.
type PresenceState struct {
	ActorID     string `json:"actor_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	OnlineAt    int64  `json:"online_at"`
	Status      string `json:"status"`
}

// PresenceResponse lists everyone in a scope except the actor.
type PresenceResponse struct {
	Scope  string          `json:"scope"`
	Others []PresenceState `json:"others"`
}

// ScopePresence fetches the announced presence of a scope.
func (c *Client) ScopePresence(scope string) (*PresenceResponse, error) {
	var resp PresenceResponse
	if err := c.get("/presence/"+url.PathEscape(scope), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Typing toggles the actor's typing indicator in a scope.
func (c *Client) Typing(scope string, typing bool) error {
	req := map[string]bool{"typing": typing}
	return c.post("/presence/"+url.PathEscape(scope)+"/typing", req, nil)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	StoreMode string                 `json:"store_mode"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get("/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

package events

// Item is one conversation turn fragment (a message, function call, ...).
type Item struct {
	ID      string    `json:"id"`
	Object  string    `json:"object,omitempty"`
	Type    string    `json:"type"`
	Status  string    `json:"status,omitempty"`
	Role    string    `json:"role,omitempty"`
	Content []Content `json:"content,omitempty"`
}

// Content is one ordered part of an Item.
type Content struct {
	Type       string  `json:"type"`
	Text       *string `json:"text,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
	Audio      *string `json:"audio,omitempty"`
}

// Response represents one agent turn.
type Response struct {
	ID            string         `json:"id"`
	Object        string         `json:"object,omitempty"`
	Status        string         `json:"status"`
	StatusDetails *StatusDetails `json:"status_details,omitempty"`
	Output        []Item         `json:"output"`
}

type StatusDetails struct {
	Type   string       `json:"type,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

type Session struct {
	ID         string   `json:"id"`
	Object     string   `json:"object,omitempty"`
	Model      string   `json:"model,omitempty"`
	Voice      string   `json:"voice,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
}

package backendauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// User is the user object returned by get-session.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Image         string `json:"image,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
}

// SessionInfo is the session object returned by get-session.
type SessionInfo struct {
	ID        string    `json:"id,omitempty"`
	Token     string    `json:"token,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	ExpiresAt Timestamp `json:"expiresAt"`
}

// BackendSession is the get-session response body.
type BackendSession struct {
	User    *User       `json:"user"`
	Session SessionInfo `json:"session"`
}

// Token returns the session token reported by the backend, falling back to the
// session id for backends that only report that.
func (s *BackendSession) Token() string {
	if s.Session.Token != "" {
		return s.Session.Token
	}
	return s.Session.ID
}

// ValidationResult is the outcome of Client.Validate.
// Session is only set when Valid is true.
type ValidationResult struct {
	Valid        bool
	Session      *BackendSession
	NeedsRefresh bool
}

// ExpiresAt returns the backend-reported expiry, or the zero time.
func (r ValidationResult) ExpiresAt() time.Time {
	if r.Session == nil {
		return time.Time{}
	}
	return r.Session.Session.ExpiresAt.Time
}

// Timestamp decodes either an RFC 3339 string or epoch milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedBody = errors.New("malformed job body")
	ErrMissingType   = errors.New("job type missing")
)

// Job is one unit of work decoded from a backend queue message.
type Job struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Data     any       `json:"data"`
	Created  time.Time `json:"created"`
	Attempts int       `json:"attempts"`
	Raw      string    `json:"raw,omitempty"`
}

// Map returns Data when it is a JSON object, nil otherwise.
func (j Job) Map() map[string]any {
	m, _ := j.Data.(map[string]any)
	return m
}

// envelope is the wire shape of a job body. Service, Action and Payload
// carry the older producer format that predates the type field.
type envelope struct {
	Type     string          `json:"type"`
	Data     any             `json:"data"`
	Created  json.RawMessage `json:"created"`
	Attempts json.RawMessage `json:"attempts"`

	Service string `json:"service,omitempty"`
	Action  string `json:"action,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// New returns a fresh job ready to be posted.
func New(jobType string, data map[string]any) Job {
	if data == nil {
		data = map[string]any{}
	}
	return Job{
		Type:    jobType,
		Data:    data,
		Created: time.Now().UTC(),
	}
}

// Decode parses a raw message body. The body may be the JSON object itself or
// a JSON string holding it. On error the returned job still carries id and the
// raw body so it can be quarantined.
func Decode(id string, body []byte) (Job, error) {
	j := Job{ID: id}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			j.Raw = string(body)
			return j, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		trimmed = []byte(inner)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		j.Raw = string(body)
		return j, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	if env.Type == "" && env.Service != "" && env.Action != "" {
		env.Type = env.Service + ":" + env.Action
		if env.Data == nil {
			env.Data = env.Payload
		}
	}
	if env.Type == "" {
		j.Raw = string(body)
		return j, ErrMissingType
	}

	j.Type = env.Type
	j.Data = env.Data
	if j.Data == nil {
		j.Data = map[string]any{}
	}
	j.Attempts = parseAttempts(env.Attempts)
	j.Created = parseCreated(env.Created)
	return j, nil
}

// Encode renders the job in its wire shape.
func (j Job) Encode() ([]byte, error) {
	env := envelope{
		Type:     j.Type,
		Data:     j.Data,
		Attempts: json.RawMessage(strconv.Itoa(j.Attempts)),
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	created, err := json.Marshal(j.Created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("encode created: %w", err)
	}
	env.Created = created
	return json.Marshal(env)
}

// parseCreated is lenient: created is informational, so anything that is not
// an RFC 3339 timestamp yields the zero time. Producers have been seen to
// double-encode the value, hence the quote trimming.
func parseCreated(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}
	s = strings.Trim(s, `"'`)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseAttempts accepts a number or a numeric string. Anything else is 0.
func parseAttempts(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int(n)
}

package wire

// MuxSession is the mux's public view of one registered coop.
type MuxSession struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RegisteredAt int64             `json:"registered_at"` // unix seconds
	State        string            `json:"state,omitempty"`
}

// SessionsMsg is the registry snapshot sent to each browser on connect.
type SessionsMsg struct {
	Type     string       `json:"type"`
	Sessions []MuxSession `json:"sessions"`
}

// SessionOnline announces a fresh registration.
type SessionOnline struct {
	Type     string            `json:"type"`
	ID       string            `json:"id"`
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionOffline announces a deregistration or health eviction.
type SessionOffline struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// MuxState relays one upstream state transition.
type MuxState struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Next    string `json:"next"`
}

// ScreenEntry is one session's screen inside a batch. ANSI is omitted when
// unchanged since the previous tick for that session.
type ScreenEntry struct {
	Session string   `json:"session"`
	Cols    int      `json:"cols"`
	Rows    int      `json:"rows"`
	Lines   []string `json:"lines"`
	ANSI    []string `json:"ansi,omitempty"`
}

// ScreenBatch carries the latest screen per updated session for one tick.
type ScreenBatch struct {
	Type    string        `json:"type"`
	Screens []ScreenEntry `json:"screens"`
}

// Subscribe narrows a browser's fan-out to the named sessions. An empty list
// subscribes to everything.
type Subscribe struct {
	Type     string   `json:"type"`
	Sessions []string `json:"sessions"`
}

// InputSend forwards text input to an upstream coop.
type InputSend struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Text    string `json:"text"`
}

// InputSendRaw forwards raw bytes to an upstream coop over its per-session WS.
type InputSendRaw struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Data    string `json:"data"` // base64
}

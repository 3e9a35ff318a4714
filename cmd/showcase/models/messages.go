package models

import "encoding/json"

// Server -> client message types
const (
	MessageHello   = "hello"
	MessageAssets  = "assets"
	MessageCommand = "command"
	MessageState   = "state"
)

// Client -> server message types
const (
	EventReadyState     = "ready_state"
	EventFrame          = "frame"
	EventEnded          = "ended"
	EventPlayResult     = "play_result"
	EventFontsLoaded    = "fonts_loaded"
	EventServiceSettled = "service_settled"
	ControlNext         = "next"
	ControlPrevious     = "previous"
	ControlPrepare      = "prepare"
)

// Media command operations
const (
	OpSource  = "source"
	OpPreload = "preload"
	OpMuted   = "muted"
	OpLoop    = "loop"
	OpLoad    = "load"
	OpPlay    = "play"
	OpPause   = "pause"
	OpSeek    = "seek"
	OpVisible = "visible"
)

// ServerMessage is pushed to the browser
type ServerMessage struct {
	Type    string          `json:"type"`
	Session string          `json:"session,omitempty"`
	Engine  string          `json:"engine,omitempty"`
	Assets  []Asset         `json:"assets,omitempty"`
	Patch   json.RawMessage `json:"patch,omitempty"`
	Command *Command        `json:"command,omitempty"`
	State   *ShowcaseState  `json:"state,omitempty"`
}

// Command is an instruction for one media surface
type Command struct {
	Seq     uint64  `json:"seq,omitempty"`
	Index   int     `json:"index"`
	Op      string  `json:"op"`
	Source  string  `json:"source,omitempty"`
	Preload string  `json:"preload,omitempty"`
	Flag    bool    `json:"flag,omitempty"`
	Time    float64 `json:"time,omitempty"`
}

// ClientMessage is an event or control sent by the browser
type ClientMessage struct {
	Type       string `json:"type"`
	Index      int    `json:"index"`
	Seq        uint64 `json:"seq,omitempty"`
	ReadyState int    `json:"ready_state,omitempty"`
	OK         bool   `json:"ok,omitempty"`
	Error      string `json:"error,omitempty"`
	Direction  int    `json:"direction,omitempty"`
}

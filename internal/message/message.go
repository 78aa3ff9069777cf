// Package message defines the requests exchanged between front-end contexts
// and the agent, and the results sent back to them.
package message

import (
	"encoding/json"
	"strconv"
)

// Type identifies what a request asks the agent to do.
type Type string

const (
	// TypeGetStylesDiff carries the stylesheets of a page. Pushed down a
	// channel it asks the front end to collect them.
	TypeGetStylesDiff Type = "get_styles_diff"
	// TypeGetGistContent asks the agent to fetch a URL and return its text.
	TypeGetGistContent Type = "get_gist_content"
)

const portPrefix = "styleurl-"

var knownTypes = []Type{TypeGetStylesDiff, TypeGetGistContent}

// Types returns every recognised request type.
func Types() []Type {
	out := make([]Type, len(knownTypes))
	copy(out, knownTypes)
	return out
}

// Valid reports whether t is a recognised request type.
func (t Type) Valid() bool {
	for _, k := range knownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Stylesheet is one page stylesheet as produced by the content capture code.
// The agent never looks inside it.
type Stylesheet = json.RawMessage

// Value is the payload of a get_styles_diff request.
type Value struct {
	Stylesheets []Stylesheet `json:"stylesheets"`
}

// Request is a normalized inbound message. TabID zero means no tab.
type Request struct {
	Type     Type   `json:"type"`
	ID       string `json:"id,omitempty"`
	TabID    int    `json:"tabId,omitempty"`
	URL      string `json:"url,omitempty"`
	Response bool   `json:"response,omitempty"`
	Value    *Value `json:"value,omitempty"`
}

// Stylesheets returns the request's stylesheets, or nil.
func (r Request) Stylesheets() []Stylesheet {
	if r.Value == nil {
		return nil
	}
	return r.Value.Stylesheets
}

// Result is the response delivered to the requester.
type Result struct {
	Success  bool   `json:"success"`
	Type     Type   `json:"type,omitempty"`
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	Response bool   `json:"response,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Failure is the uniform unsuccessful result.
func Failure() Result {
	return Result{Success: false}
}

// StylesheetGroup is the artifact issued by the backend for a submission.
type StylesheetGroup struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// StylesheetGroupResult is the backend answer to a stylesheet submission.
// Data is set iff Success is true.
type StylesheetGroupResult struct {
	Success bool             `json:"success"`
	Data    *StylesheetGroup `json:"data,omitempty"`
}

// PortName returns the channel name a front end uses for the given tab.
func PortName(tabID int) string {
	return portPrefix + strconv.Itoa(tabID)
}

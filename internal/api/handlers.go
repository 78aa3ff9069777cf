package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/styleurl/internal/engine"
	"github.com/dgnsrekt/styleurl/internal/host"
	"github.com/dgnsrekt/styleurl/internal/message"
)

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerMessageHandlers(api huma.API, tr Transport) {
	// The body is decoded by hand: stylesheets are opaque JSON values and
	// have no schema.
	type messageInput struct {
		RawBody []byte
	}
	type messageOutput struct {
		Body struct {
			Pending bool            `json:"pending" doc:"True when the message was answered"`
			Result  *message.Result `json:"result,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "post-message",
		Method:      http.MethodPost,
		Path:        "/api/messages",
		Summary:     "Deliver a one-shot message",
		Description: "Messages that expect an answer hold the request open until the answer is ready.",
		Tags:        []string{"Messages"},
	}, func(ctx context.Context, input *messageInput) (*messageOutput, error) {
		var req message.Request
		if err := json.Unmarshal(input.RawBody, &req); err != nil {
			return nil, huma.Error400BadRequest("invalid message body", err)
		}
		results := make(chan message.Result, 1)
		pending := tr.Dispatch(ctx, req, func(res message.Result) { results <- res })

		out := &messageOutput{}
		out.Body.Pending = pending
		if !pending {
			return out, nil
		}
		select {
		case res := <-results:
			out.Body.Result = &res
			return out, nil
		case <-ctx.Done():
			return nil, mapErr(ctx.Err())
		}
	})

	type initiateInput struct {
		TabID int `path:"tab_id" minimum:"1" doc:"Host tab ID"`
	}
	type initiateOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID:   "request-styleurl",
		Method:        http.MethodPost,
		Path:          "/api/tabs/{tab_id}/styleurl",
		Summary:       "Ask a tab's front end for its modified stylesheets",
		Tags:          []string{"Messages"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *initiateInput) (*initiateOutput, error) {
		if err := tr.Initiate(ctx, input.TabID); err != nil {
			return nil, mapErr(err)
		}
		out := &initiateOutput{}
		out.Body.Status = "requested"
		return out, nil
	})
}

func registerWorkflowHandlers(api huma.API, wf Workflows, tabs Tabs) {
	type tabsOutput struct {
		Body struct {
			Tabs []host.Tab `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/tabs", Summary: "List host page tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			list, err := tabs.Tabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabsOutput{}
			out.Body.Tabs = list
			if out.Body.Tabs == nil {
				out.Body.Tabs = []host.Tab{}
			}
			return out, nil
		})

	type workflowsOutput struct {
		Body struct {
			Workflows []engine.Workflow `json:"workflows"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-workflows", Method: http.MethodGet, Path: "/api/workflows", Summary: "List in-flight upload workflows", Tags: []string{"Workflows"}},
		func(ctx context.Context, input *struct{}) (*workflowsOutput, error) {
			list, err := wf.Workflows(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &workflowsOutput{}
			out.Body.Workflows = list
			return out, nil
		})
}

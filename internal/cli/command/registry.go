package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

var (
	refreshTokenField = Field{Name: "refresh_token", Prompt: "refresh_token", Type: FieldString, Required: true}
	idField           = Field{Name: "id", Prompt: "id", Type: FieldString, Required: true}
)

// Registry returns all CLI commands keyed by "group action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Group:        "auth",
			Action:       "login",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/auth/login",
			Fields: []Field{
				{Name: "username", Aliases: []string{"user"}, Prompt: "username", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true, Secret: true},
			},
		},
		{
			Group:        "auth",
			Action:       "refresh",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/auth/refresh",
			Fields:       []Field{refreshTokenField},
		},
		{
			Group:        "auth",
			Action:       "logout",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/auth/logout",
			Fields:       []Field{refreshTokenField},
		},
		{
			Group:        "auth",
			Action:       "logout-all",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/auth/logout-all",
			RequiresAuth: true,
		},
		{
			Group:        "auth",
			Action:       "password",
			Method:       http.MethodPut,
			PathTemplate: "/api/v1/auth/password",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "old_password", Aliases: []string{"old"}, Prompt: "old password", Type: FieldString, Required: true, Secret: true},
				{Name: "new_password", Aliases: []string{"new"}, Prompt: "new password", Type: FieldString, Required: true, Secret: true},
			},
		},
		{
			Group:        "auth",
			Action:       "session",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/auth/session",
			RequiresAuth: true,
		},
		{
			Group:        "submit",
			Action:       "create",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "language_id", Aliases: []string{"lang"}, Prompt: "language_id", Type: FieldInt, Required: true},
				{Name: "source_file", Aliases: []string{"file"}, Prompt: "source file", Type: FieldFile, Required: true, Target: "source_code"},
			},
		},
		{
			Group:        "submit",
			Action:       "get",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/submissions/:id",
			RequiresAuth: true,
			Fields:       []Field{idField},
		},
		{
			Group:        "submit",
			Action:       "runs",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/submissions/:id/runs",
			RequiresAuth: true,
			Fields:       []Field{idField},
		},
		{
			Group:        "submit",
			Action:       "resubmit",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/submissions/:id/resubmit",
			RequiresAuth: true,
			Fields:       []Field{idField},
		},
		{
			Group:        "submit",
			Action:       "delete",
			Method:       http.MethodDelete,
			PathTemplate: "/api/v1/submissions/:id",
			RequiresAuth: true,
			Fields:       []Field{idField},
		},
		{
			Group:        "problem",
			Action:       "recount",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/problems/:id/recount",
			RequiresAuth: true,
			Fields:       []Field{{Name: "id", Prompt: "problem_id", Type: FieldInt64, Required: true}},
		},
		{
			Group:        "lang",
			Action:       "list",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/languages",
		},
		{
			Group:        "lang",
			Action:       "refresh",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/languages/refresh",
			RequiresAuth: true,
		},
		{
			Group:        "stats",
			Action:       "daily",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/stats/daily",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "from", Prompt: "from (YYYY-MM-DD)", Type: FieldString},
				{Name: "to", Prompt: "to (YYYY-MM-DD)", Type: FieldString},
			},
			Query: []string{"from", "to"},
		},
	}

	registry := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		registry[cmd.Key()] = cmd
	}
	return registry
}

// Keys returns the registry keys in a stable order.
func Keys(registry map[string]Command) []string {
	keys := make([]string, 0, len(registry))
	for key := range registry {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest renders cmd with params into an HTTP request. Path
// placeholders and Query fields are taken first; the rest form the JSON body.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			return RequestSpec{}, fmt.Errorf("%s is required", field.Name)
		}
	}

	path, used, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	query := url.Values{}
	for _, name := range cmd.Query {
		used[name] = true
		if value := params.Get(name); value != "" {
			query.Set(name, value)
		}
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd.Fields, params, used)
		if err != nil {
			return RequestSpec{}, err
		}
		if len(payload) > 0 {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{Method: cmd.Method, Path: path, Body: body}, nil
}

func buildPath(template string, params Params) (string, map[string]bool, error) {
	used := map[string]bool{}
	segments := strings.Split(template, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		key := segment[1:]
		value := params.Get(key)
		if value == "" {
			return "", nil, fmt.Errorf("missing path parameter: %s", key)
		}
		segments[i] = url.PathEscape(value)
		used[key] = true
	}
	return strings.Join(segments, "/"), used, nil
}

func buildPayload(fields []Field, params Params, used map[string]bool) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	for _, field := range fields {
		if used[field.Name] {
			continue
		}
		raw := params.Get(field.Name)
		if raw == "" {
			continue
		}
		switch field.Type {
		case FieldInt:
			n, err := ParseInt(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = n
		case FieldInt64:
			n, err := ParseInt64(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = n
		case FieldFile:
			content, err := ReadFile(raw)
			if err != nil {
				return nil, err
			}
			payload[field.Target] = content
		default:
			payload[field.Name] = raw
		}
	}
	return payload, nil
}

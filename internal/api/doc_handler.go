package api

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

type docRoute struct {
	Method  string
	Path    string
	Tag     string
	Summary string
	Body    bool
}

var docRoutes = []docRoute{
	{"POST", "/sync/one", "sync", "Sync one instance", true},
	{"POST", "/sync/many", "sync", "Sync a list of instances in one session", true},
	{"POST", "/sync/all", "sync", "Sync every active instance", false},
	{"POST", "/sync/cancel", "sync", "Cancel a running session", true},
	{"GET", "/sessions", "sync", "List sync sessions", false},
	{"GET", "/sessions/{id}", "sync", "Get a session with its instance records", false},
	{"GET", "/locks", "sync", "List held instance locks", false},

	{"POST", "/classify", "classification", "Run a classification batch", true},
	{"GET", "/classify/batches", "classification", "List classification batches", false},
	{"GET", "/classify/batches/{id}", "classification", "Get a classification batch", false},
	{"GET", "/classifications", "classification", "List classifications", false},
	{"POST", "/classifications", "classification", "Create a classification", true},
	{"GET", "/classifications/{id}", "classification", "Get a classification", false},
	{"PUT", "/classifications/{id}", "classification", "Update a classification", true},
	{"DELETE", "/classifications/{id}", "classification", "Delete a non-system classification", false},
	{"GET", "/rules", "classification", "List rules, optionally by vendor", false},
	{"POST", "/rules", "classification", "Create a rule", true},
	{"GET", "/rules/{id}", "classification", "Get a rule", false},
	{"PUT", "/rules/{id}", "classification", "Update a rule", true},
	{"DELETE", "/rules/{id}", "classification", "Delete a rule", false},

	{"GET", "/accounts", "accounts", "List live accounts with permissions and classifications", false},
	{"GET", "/accounts/{id}", "accounts", "Get one account", false},
	{"POST", "/accounts/{id}/classifications", "accounts", "Assign a classification manually", true},
	{"DELETE", "/accounts/{id}/classifications/{cid}", "accounts", "Remove a classification from an account", false},

	{"GET", "/instances", "registry", "List instances", false},
	{"POST", "/instances", "registry", "Register an instance", true},
	{"GET", "/instances/{id}", "registry", "Get an instance", false},
	{"PUT", "/instances/{id}", "registry", "Update an instance", true},
	{"DELETE", "/instances/{id}", "registry", "Soft-delete an instance", false},
	{"GET", "/credentials", "registry", "List credentials", false},
	{"POST", "/credentials", "registry", "Create a credential", true},
	{"PUT", "/credentials/{id}", "registry", "Rotate a credential", true},
	{"DELETE", "/credentials/{id}", "registry", "Delete a credential", false},

	{"GET", "/jobs", "jobs", "List scheduled jobs", false},
	{"POST", "/jobs", "jobs", "Register or replace a user job", true},
	{"POST", "/jobs/{id}/pause", "jobs", "Pause a job", false},
	{"POST", "/jobs/{id}/resume", "jobs", "Resume a job", false},
	{"POST", "/jobs/{id}/run", "jobs", "Run a job now", false},
	{"DELETE", "/jobs/{id}", "jobs", "Remove a user job", false},

	{"GET", "/audit", "admin", "Recent audit log entries", false},
	{"GET", "/users", "admin", "List operators", false},
}

var pathParam = regexp.MustCompile(`\{(\w+)\}`)

type DocHandler struct {
	spec []byte
}

func NewDocHandler() *DocHandler {
	spec, _ := json.Marshal(openAPISpec())
	return &DocHandler{spec: spec}
}

func (h *DocHandler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	html := `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>dbinventory API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
        window.ui = SwaggerUIBundle({
            url: '/api/docs/openapi.json',
            dom_id: '#swagger-ui',
        });
    };
</script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

func (h *DocHandler) GetOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.spec)
}

func openAPISpec() map[string]any {
	paths := make(map[string]map[string]any)
	for _, rt := range docRoutes {
		op := map[string]any{
			"summary": rt.Summary,
			"tags":    []string{rt.Tag},
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"400": map[string]any{"description": "Validation error"},
				"401": map[string]any{"description": "Missing or invalid API key"},
				"404": map[string]any{"description": "Not found"},
				"409": map[string]any{"description": "Locked or cancelled"},
			},
		}
		var params []map[string]any
		for _, m := range pathParam.FindAllStringSubmatch(rt.Path, -1) {
			params = append(params, map[string]any{
				"name": m[1], "in": "path", "required": true,
				"schema": map[string]string{"type": "string"},
			})
		}
		if params != nil {
			op["parameters"] = params
		}
		if rt.Body {
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{"schema": map[string]string{"type": "object"}},
				},
			}
		}
		key := "/api/v1" + rt.Path
		if paths[key] == nil {
			paths[key] = make(map[string]any)
		}
		paths[key][strings.ToLower(rt.Method)] = op
	}

	return map[string]any{
		"openapi": "3.0.0",
		"info": map[string]any{
			"title":       "dbinventory API",
			"version":     "1.0.0",
			"description": "Account inventory and privilege classification for MySQL, PostgreSQL, SQL Server and Oracle.",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"ApiKeyAuth": map[string]any{
					"type": "apiKey",
					"in":   "header",
					"name": "X-API-Key",
				},
			},
		},
		"security": []map[string]any{
			{"ApiKeyAuth": []string{}},
		},
	}
}

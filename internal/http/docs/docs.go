// Package docs holds the OpenAPI document served at /swagger/*any.
//
// Regenerate after changing handler annotations:
//
//	swag init -g cmd/unibabel/main.go -o internal/http/docs --parseInternal
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chats": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Chats"], "summary": "Create a chat", "operationId": "createChat",
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad request"}, "401": {"description": "Unauthenticated"}}}
        },
        "/chats/{id}": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Chats"], "summary": "Get a chat", "operationId": "getChat",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Not a participant"}, "404": {"description": "Chat not found"}}}
        },
        "/chats/{id}/participants": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Chats"], "summary": "Join a room", "operationId": "joinChat",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}, "403": {"description": "Wrong password or not joinable"}}}
        },
        "/chat/{id}/messages": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Messages"], "summary": "Chat history", "operationId": "listMessages",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "name": "before", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "string", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["Messages"], "summary": "Send a message", "operationId": "postMessage",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"}
                ],
                "responses": {"200": {"description": "Replayed"}, "201": {"description": "Created"}, "413": {"description": "MessageTooLarge"}, "429": {"description": "RateLimited or DailyQuotaExceeded"}}}
        },
        "/translations": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Translations"], "summary": "Translate text once", "operationId": "translate",
                "parameters": [
                    {"type": "string", "name": "text", "in": "query", "required": true},
                    {"type": "string", "name": "target", "in": "query", "required": true},
                    {"type": "string", "name": "source", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad text or language"}}}
        },
        "/translations/submissions": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Translations"], "summary": "Review queue", "operationId": "listSubmissions",
                "responses": {"200": {"description": "OK"}, "403": {"description": "Admins only"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["Translations"], "summary": "Propose a translation", "operationId": "createSubmission",
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad request"}}}
        },
        "/translations/submissions/{id}": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Translations"], "summary": "Get a submission", "operationId": "getSubmission",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}
        },
        "/translations/submissions/{id}/approve": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Translations"], "summary": "Approve a submission", "operationId": "approveSubmission",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Already reviewed"}}}
        },
        "/translations/submissions/{id}/reject": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Translations"], "summary": "Reject a submission", "operationId": "rejectSubmission",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Already reviewed"}}}
        },
        "/admin/translations/cache": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Admin"], "summary": "Pin a translation", "operationId": "addCacheEntry",
                "responses": {"201": {"description": "Created"}, "403": {"description": "Admins only"}}}
        },
        "/admin/translations/cache/{id}": {
            "delete": {"security": [{"BearerAuth": []}], "tags": ["Admin"], "summary": "Evict a cached translation", "operationId": "evictCacheEntry",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not found"}}}
        },
        "/admin/users": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Admin"], "summary": "Create or refresh a user", "operationId": "upsertUser",
                "responses": {"200": {"description": "OK"}, "403": {"description": "Admins only"}}}
        },
        "/admin/users/{id}": {
            "patch": {"security": [{"BearerAuth": []}], "tags": ["Admin"], "summary": "Block a user or change their language", "operationId": "patchUser",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Unknown user"}}}
        },
        "/users/me/quota": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Users"], "summary": "Remaining daily sends", "operationId": "myQuota",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthenticated"}}}
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"},
                "code": {"type": "string", "example": "InvalidChat"},
                "message": {"type": "string", "example": "chat 7 does not exist"},
                "retry_after_seconds": {"type": "integer", "example": 3}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "UniBabel API",
	Description:      "Multilingual chat: every participant reads every message in their own language.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

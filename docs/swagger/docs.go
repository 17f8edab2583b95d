// Package swagger registers the API description served under /swagger.
// Regenerate with `swag init -g cmd/server/main.go -o docs/swagger` after changing handler annotations.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/plans": {"get": {"security": [{"BearerAuth": []}], "tags": ["Plans"], "summary": "List plans", "responses": {"200": {"description": "OK"}}}},
        "/subscription": {"get": {"security": [{"BearerAuth": []}], "tags": ["Subscriptions"], "summary": "Get current subscription", "responses": {"200": {"description": "OK"}}}},
        "/subscription/checkout": {"post": {"security": [{"BearerAuth": []}], "tags": ["Subscriptions"], "summary": "Start checkout", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}},
        "/subscription/change": {"post": {"security": [{"BearerAuth": []}], "tags": ["Subscriptions"], "summary": "Change plan", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}},
        "/subscription/cancel": {"post": {"security": [{"BearerAuth": []}], "tags": ["Subscriptions"], "summary": "Cancel subscription", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}},
        "/subscription/resume": {"post": {"security": [{"BearerAuth": []}], "tags": ["Subscriptions"], "summary": "Resume subscription", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}},
        "/subscription/portal": {"post": {"security": [{"BearerAuth": []}], "tags": ["Subscriptions"], "summary": "Create billing portal session", "responses": {"200": {"description": "OK"}}}},
        "/entitlements": {"get": {"security": [{"BearerAuth": []}], "tags": ["Entitlements"], "summary": "Get entitlements", "responses": {"200": {"description": "OK"}}}},
        "/entitlements/{key}": {"get": {"security": [{"BearerAuth": []}], "tags": ["Entitlements"], "summary": "Check a feature", "parameters": [{"type": "string", "name": "key", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/plans": {"get": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "List plans (admin)", "parameters": [{"type": "boolean", "name": "include_inactive", "in": "query"}], "responses": {"200": {"description": "OK"}}}},
        "/admin/plans/{code}": {
            "get": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Get a plan", "parameters": [{"type": "string", "name": "code", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "put": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Upsert a plan", "parameters": [{"type": "string", "name": "code", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        },
        "/admin/tenants/{tenant_id}/subscription": {"post": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Assign a plan to a tenant", "parameters": [{"type": "string", "name": "tenant_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/tenants/{tenant_id}/entitlements/{key}": {
            "put": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Set an entitlement override", "parameters": [{"type": "string", "name": "tenant_id", "in": "path", "required": true}, {"type": "string", "name": "key", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}},
            "delete": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Delete an entitlement override", "parameters": [{"type": "string", "name": "tenant_id", "in": "path", "required": true}, {"type": "string", "name": "key", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}}}
        },
        "/admin/tenants/{tenant_id}/audit": {"get": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Tenant audit history", "parameters": [{"type": "string", "name": "tenant_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/dunning/preview": {"get": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Preview dunning", "parameters": [{"type": "integer", "name": "grace_days", "in": "query"}, {"type": "integer", "name": "limit", "in": "query"}], "responses": {"200": {"description": "OK"}}}},
        "/admin/dunning/run": {"post": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Run dunning", "responses": {"200": {"description": "OK"}}}},
        "/admin/subscriptions/backfill": {"post": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Backfill subscription metadata", "responses": {"200": {"description": "OK"}}}},
        "/admin/reconciliation/drift": {"get": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Reconciliation drift", "parameters": [{"type": "string", "name": "tenant_id", "in": "query"}, {"type": "integer", "name": "limit", "in": "query"}], "responses": {"200": {"description": "OK"}}}},
        "/admin/reconciliation/sync/{provider}": {"post": {"security": [{"ApiKeyAuth": []}], "tags": ["Admin"], "summary": "Pull sync from a provider", "parameters": [{"type": "string", "name": "provider", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/webhooks/stripe": {"post": {"tags": ["Webhooks"], "summary": "Stripe webhook", "parameters": [{"type": "string", "name": "Stripe-Signature", "in": "header", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/webhooks/paystack": {"post": {"tags": ["Webhooks"], "summary": "Paystack webhook", "parameters": [{"type": "string", "name": "x-paystack-signature", "in": "header", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}}
    },
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "x-api-key", "in": "header"},
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Pewsoft Subscriptions API",
	Description:      "Tenant plans, subscriptions and entitlements",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

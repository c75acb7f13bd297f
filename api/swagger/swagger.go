package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "CareWell Scheduling API",
        "description": "Individualized and cohort scheduling engine for multi-clinic therapy programs",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Calendar", "description": "Individualized session calendar generation"},
        {"name": "Conflicts", "description": "Conflict detection, resolution and pattern analysis"},
        {"name": "Modifications", "description": "Enrollment schedule modifications"},
        {"name": "Cohorts", "description": "Cohort coordination and shared activities"},
        {"name": "Sync", "description": "Program template synchronization"},
        {"name": "Exports", "description": "Schedule and report exports"}
    ],
    "paths": {
        "/calendar/generate": {
            "post": {
                "tags": ["Calendar"],
                "summary": "Generate and persist session slots for an enrollment",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/calendar/preview": {
            "post": {
                "tags": ["Calendar"],
                "summary": "Preview session slots without persisting them",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/conflicts": {
            "get": {
                "tags": ["Conflicts"],
                "summary": "Detect schedule conflicts inside a date window",
                "parameters": [
                    {"name": "from", "in": "query", "type": "string", "required": true},
                    {"name": "to", "in": "query", "type": "string", "required": true},
                    {"name": "therapistId", "in": "query", "type": "string"},
                    {"name": "roomId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/conflicts/suggestions": {
            "post": {
                "tags": ["Conflicts"],
                "summary": "Suggest alternative placements for one detected conflict",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/conflicts/bulk-resolve": {
            "post": {
                "tags": ["Conflicts"],
                "summary": "Resolve many conflicts with one strategy",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/conflicts/patterns": {
            "get": {
                "tags": ["Conflicts"],
                "summary": "Aggregate conflict patterns over a period",
                "parameters": [
                    {"name": "from", "in": "query", "type": "string", "required": true},
                    {"name": "to", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/modifications": {
            "post": {
                "tags": ["Modifications"],
                "summary": "Apply a schedule modification to an enrollment",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflicting placement", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        },
        "/enrollments/{id}/modifications": {
            "get": {
                "tags": ["Modifications"],
                "summary": "List an enrollment's modification history",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cohorts": {
            "post": {
                "tags": ["Cohorts"],
                "summary": "Create a cohort from compatible enrollments",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cohorts/{id}": {
            "delete": {
                "tags": ["Cohorts"],
                "summary": "Dissolve a cohort",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/cohorts/{id}/schedule": {
            "post": {
                "tags": ["Cohorts"],
                "summary": "Generate the cohort's combined shared schedule",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cohorts/{id}/members": {
            "post": {
                "tags": ["Cohorts"],
                "summary": "Join an enrollment into a cohort",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cohorts/{id}/members/{enrollmentId}": {
            "delete": {
                "tags": ["Cohorts"],
                "summary": "Remove an enrollment from a cohort",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "enrollmentId", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/cohorts/{id}/synchronize": {
            "post": {
                "tags": ["Cohorts"],
                "summary": "Reconcile member schedules with shared activities",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cohorts/{id}/analytics": {
            "get": {
                "tags": ["Cohorts"],
                "summary": "Cohort attendance and utilization analytics",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "from", "in": "query", "type": "string", "required": true},
                    {"name": "to", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/templates/{id}": {
            "put": {
                "tags": ["Sync"],
                "summary": "Update a program template's base parameters",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync/analyze": {
            "post": {
                "tags": ["Sync"],
                "summary": "Classify the impact of a template parameter diff",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync/validate": {
            "post": {
                "tags": ["Sync"],
                "summary": "Validate a synchronization against its policy",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync/execute": {
            "post": {
                "tags": ["Sync"],
                "summary": "Execute a template synchronization",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Policy violation", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        },
        "/sync/operations/{id}": {
            "get": {
                "tags": ["Sync"],
                "summary": "Fetch one synchronization operation",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync/operations/{id}/rollback": {
            "post": {
                "tags": ["Sync"],
                "summary": "Roll back a completed synchronization",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/schedule.csv": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export session slots as CSV",
                "produces": ["text/csv"],
                "responses": {
                    "200": {"description": "CSV file"}
                }
            }
        },
        "/exports/conflicts.pdf": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export the conflict pattern report as PDF",
                "produces": ["application/pdf"],
                "responses": {
                    "200": {"description": "PDF file"}
                }
            }
        }
    },
    "definitions": {
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "pageSize": {"type": "integer"},
                "total": {"type": "integer"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

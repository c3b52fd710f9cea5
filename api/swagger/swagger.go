package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "TOMs API",
        "description": "Proposal-scoped editing of traffic orders: restrictions, proposals and their acceptance.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Session", "description": "Current proposal and transaction group of an editing session"},
        {"name": "Proposals", "description": "Proposal lifecycle, schedules and mapping updates"},
        {"name": "Restrictions", "description": "Restriction editing within the current proposal"}
    ],
    "parameters": {
        "SessionHeader": {"name": "X-TOMs-Session", "in": "header", "type": "string", "description": "Editing session; assigned when absent"},
        "ProposalID": {"name": "id", "in": "path", "required": true, "type": "integer"},
        "Layer": {"name": "layer", "in": "path", "required": true, "type": "string", "description": "Layer name (Bays, Lines, ...) or code"},
        "GeometryID": {"name": "geometryId", "in": "path", "required": true, "type": "string"}
    },
    "paths": {
        "/session/proposal": {
            "get": {
                "tags": ["Session"],
                "summary": "Show the session's current proposal",
                "parameters": [{"$ref": "#/parameters/SessionHeader"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Session"],
                "summary": "Select the session's current proposal",
                "description": "Proposal 0 returns to the read-only baseline. Switching discards any open transaction group.",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetCurrentProposalRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Proposal is not in preparation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/transaction": {
            "get": {
                "tags": ["Session"],
                "summary": "Show the session's transaction group",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Session"],
                "summary": "Open a transaction group spanning several requests",
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/session/transaction/commit": {
            "post": {
                "tags": ["Session"],
                "summary": "Commit the session's transaction group",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/session/transaction/rollback": {
            "post": {
                "tags": ["Session"],
                "summary": "Discard the session's transaction group",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/session/split": {
            "get": {
                "tags": ["Restrictions"],
                "summary": "Show the pending split and the last finished one",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Restrictions"],
                "summary": "Discard the pending split",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/session/split/flush": {
            "post": {
                "tags": ["Restrictions"],
                "summary": "Commit the pending split now",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/proposals": {
            "get": {
                "tags": ["Proposals"],
                "summary": "List proposals ordered by title",
                "parameters": [{"name": "status", "in": "query", "type": "string", "description": "Comma separated IN_PREPARATION, ACCEPTED, REJECTED"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/proposals/initialise": {
            "post": {
                "tags": ["Proposals"],
                "summary": "Reserve an ID for a new proposal",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/proposals/{id}": {
            "get": {
                "tags": ["Proposals"],
                "summary": "Get proposal by ID",
                "parameters": [{"$ref": "#/parameters/ProposalID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Proposals"],
                "summary": "Save a proposal",
                "parameters": [
                    {"$ref": "#/parameters/ProposalID"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveProposalRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/proposals/{id}/accept": {
            "post": {
                "tags": ["Proposals"],
                "summary": "Accept a proposal",
                "parameters": [
                    {"$ref": "#/parameters/ProposalID"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/AcceptProposalRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Proposal is not in preparation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/proposals/{id}/reject": {
            "post": {
                "tags": ["Proposals"],
                "summary": "Reject a proposal",
                "parameters": [{"$ref": "#/parameters/ProposalID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/proposals/{id}/schedule": {
            "get": {
                "tags": ["Proposals"],
                "summary": "Download the proposal's schedule of restrictions",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"$ref": "#/parameters/ProposalID"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "Schedule document", "schema": {"type": "file"}}}
            }
        },
        "/mapping-updates/publish": {
            "post": {
                "tags": ["Proposals"],
                "summary": "Stage the current proposal's mapping updates",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/layers": {
            "get": {
                "tags": ["Restrictions"],
                "summary": "List restriction layers",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/layers/{layer}/restrictions": {
            "post": {
                "tags": ["Restrictions"],
                "summary": "Create a restriction in the current proposal",
                "parameters": [
                    {"$ref": "#/parameters/Layer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RestrictionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "No proposal selected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/layers/{layer}/restrictions/{geometryId}": {
            "get": {
                "tags": ["Restrictions"],
                "summary": "Get a restriction by geometry ID",
                "parameters": [{"$ref": "#/parameters/Layer"}, {"$ref": "#/parameters/GeometryID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Restrictions"],
                "summary": "Edit a restriction",
                "parameters": [
                    {"$ref": "#/parameters/Layer"},
                    {"$ref": "#/parameters/GeometryID"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RestrictionRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Restrictions"],
                "summary": "Delete a restriction from the current proposal's view",
                "parameters": [{"$ref": "#/parameters/Layer"}, {"$ref": "#/parameters/GeometryID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/layers/{layer}/restrictions/{geometryId}/split": {
            "post": {
                "tags": ["Restrictions"],
                "summary": "Split a restriction into fragments or at points",
                "parameters": [
                    {"$ref": "#/parameters/Layer"},
                    {"$ref": "#/parameters/GeometryID"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SplitRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/layers/{layer}/restrictions/{geometryId}/split-fragments": {
            "post": {
                "tags": ["Restrictions"],
                "summary": "Post one fragment of a split gesture",
                "parameters": [
                    {"$ref": "#/parameters/Layer"},
                    {"$ref": "#/parameters/GeometryID"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SplitFragmentRequest"}}
                ],
                "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "GeoJSONGeometry": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "coordinates": {"type": "array", "items": {}}
            }
        },
        "SetCurrentProposalRequest": {
            "type": "object",
            "required": ["proposalId"],
            "properties": {"proposalId": {"type": "integer"}}
        },
        "SaveProposalRequest": {
            "type": "object",
            "required": ["title"],
            "properties": {
                "proposalId": {"type": "integer"},
                "title": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "AcceptProposalRequest": {
            "type": "object",
            "properties": {"openDate": {"type": "string", "format": "date-time"}}
        },
        "RestrictionRequest": {
            "type": "object",
            "properties": {
                "restrictionTypeId": {"type": "integer"},
                "geomShapeId": {"type": "integer"},
                "cpz": {"type": "string"},
                "parkingTariffArea": {"type": "string"},
                "attributes": {"type": "object"},
                "geometry": {"$ref": "#/definitions/GeoJSONGeometry"}
            }
        },
        "SplitRequest": {
            "type": "object",
            "properties": {
                "fragments": {"type": "array", "items": {"$ref": "#/definitions/GeoJSONGeometry"}},
                "points": {"type": "array", "items": {"type": "array", "items": {"type": "number"}}}
            }
        },
        "SplitFragmentRequest": {
            "type": "object",
            "properties": {"fragment": {"$ref": "#/definitions/GeoJSONGeometry"}}
        },
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
                "meta": {"type": "object"}
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

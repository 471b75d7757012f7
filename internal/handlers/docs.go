package handlers

import (
	"encoding/json"
	"net/http"
)

type object = map[string]interface{}

func queryParam(name, description string, schema object) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func jsonContent(schema object) object {
	return object{"application/json": object{"schema": schema}}
}

func pageSchema(itemRef string) object {
	return object{
		"type": "object",
		"properties": object{
			"count":    object{"type": "integer"},
			"next":     object{"type": "string", "format": "uri", "nullable": true},
			"previous": object{"type": "string", "format": "uri", "nullable": true},
			"results":  object{"type": "array", "items": object{"$ref": itemRef}},
		},
	}
}

func listResponses(itemRef string) object {
	errorRef := object{"$ref": "#/components/schemas/Error"}
	return object{
		"200": object{"description": "One page of results", "content": jsonContent(pageSchema(itemRef))},
		"400": object{"description": "Malformed query parameter", "content": jsonContent(errorRef)},
		"404": object{"description": "A filter matched nothing, or the page is past the last one", "content": jsonContent(errorRef)},
		"500": object{"description": "Internal error", "content": jsonContent(errorRef)},
	}
}

var pageParams = []object{
	queryParam("page", "Page number (default: 1)", object{"type": "integer", "minimum": 1, "default": 1}),
	queryParam("page_size", "Records per page (default: 10, max: 100)", object{"type": "integer", "default": DefaultPageSize, "maximum": MaxPageSize}),
}

// openAPISpec describes the read API as an OpenAPI 3.0 document
func openAPISpec() object {
	nullableNumber := object{"type": "number", "nullable": true}

	return object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Weather Stats API",
			"description": "Daily weather station observations and per-station yearly aggregates",
			"version":     "1.0.0",
		},
		"servers": []object{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/weather/": object{
				"get": object{
					"summary":     "List weather observations",
					"description": "Paginated daily observations ordered by insertion. Temperatures are tenths of a degree Celsius, precipitation tenths of a millimetre.",
					"parameters": append([]object{
						queryParam("station_id", "Exact station id", object{"type": "string"}),
						queryParam("date", "Exact calendar date (YYYY-MM-DD)", object{"type": "string", "format": "date"}),
					}, pageParams...),
					"responses": listResponses("#/components/schemas/Observation"),
				},
			},
			"/api/weather/stats/": object{
				"get": object{
					"summary":     "List yearly statistics",
					"description": "Paginated per-station yearly averages of max/min temperature and total precipitation",
					"parameters": append([]object{
						queryParam("station_id", "Exact station id", object{"type": "string"}),
						queryParam("year", "Calendar year", object{"type": "integer"}),
					}, pageParams...),
					"responses": listResponses("#/components/schemas/YearlyStat"),
				},
			},
			"/health": object{
				"get": object{
					"summary": "Health check",
					"responses": object{
						"200": object{"description": "API and database reachable"},
						"503": object{"description": "Database unreachable"},
					},
				},
			},
			"/metrics": object{
				"get": object{
					"summary": "Prometheus metrics",
					"responses": object{
						"200": object{
							"description": "Prometheus text exposition format",
							"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
						},
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"Observation": object{
					"type": "object",
					"properties": object{
						"id":            object{"type": "integer"},
						"date":          object{"type": "string", "format": "date"},
						"station_id":    object{"type": "string"},
						"max_temp":      object{"type": "integer"},
						"min_temp":      object{"type": "integer"},
						"precipitation": object{"type": "integer"},
					},
				},
				"YearlyStat": object{
					"type": "object",
					"properties": object{
						"id":                  object{"type": "integer"},
						"year":                object{"type": "integer"},
						"station_id":          object{"type": "string"},
						"avg_max_temp":        nullableNumber,
						"avg_min_temp":        nullableNumber,
						"total_precipitation": nullableNumber,
					},
				},
				"Error": object{
					"type": "object",
					"properties": object{
						"error": object{"type": "string"},
						"code":  object{"type": "integer"},
					},
				},
			},
		},
	}
}

// OpenAPISpec serves the OpenAPI document
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(openAPISpec())
}

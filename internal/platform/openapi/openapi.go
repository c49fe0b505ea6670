package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation describes one documented route.
type Operation struct {
	Method      string
	Path        string
	Summary     string
	Tag         string
	RequestBody string // component schema name, empty for none
	Response    string // component schema name, empty for no body
	Status      int
}

// Generator builds an OpenAPI 3.0 document from the registered operations.
type Generator struct {
	version string
	baseURL string
	ops     []Operation
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(version, baseURL string) *Generator {
	return &Generator{version: version, baseURL: baseURL}
}

// Add documents operations. Paths use echo's ":param" syntax.
func (g *Generator) Add(ops ...Operation) {
	g.ops = append(g.ops, ops...)
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]map[string]interface{})
	tags := make(map[string]bool)

	for _, op := range g.ops {
		path, params := convertPath(op.Path)
		item, ok := paths[path]
		if !ok {
			item = make(map[string]interface{})
			paths[path] = item
		}

		status := op.Status
		if status == 0 {
			status = http.StatusOK
		}
		operation := map[string]interface{}{
			"summary":     op.Summary,
			"operationId": operationID(op.Method, op.Path),
			"responses":   g.buildResponses(status, op.Response),
		}
		if op.Tag != "" {
			operation["tags"] = []string{op.Tag}
			tags[op.Tag] = true
		}
		if len(params) > 0 {
			operation["parameters"] = buildPathParameters(params)
		}
		if op.RequestBody != "" {
			operation["requestBody"] = buildRequestBody(op.RequestBody)
		}
		item[strings.ToLower(op.Method)] = operation
	}

	tagNames := make([]string, 0, len(tags))
	for t := range tags {
		tagNames = append(tagNames, t)
	}
	sort.Strings(tagNames)
	tagList := make([]map[string]string, 0, len(tagNames))
	for _, t := range tagNames {
		tagList = append(tagList, map[string]string{"name": t})
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "DoseWise Interaction API",
			"version":     g.version,
			"description": "Touch gesture recognition and adaptive performance recommendations",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"tags":  tagList,
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
		},
	}
}

// Handler returns an echo handler that serves the OpenAPI spec as JSON.
func (g *Generator) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	}
}

// convertPath rewrites "/sessions/:id" to "/sessions/{id}" and returns the
// parameter names in order.
func convertPath(path string) (string, []string) {
	segments := strings.Split(path, "/")
	var params []string
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			name := seg[1:]
			params = append(params, name)
			segments[i] = "{" + name + "}"
		}
	}
	return strings.Join(segments, "/"), params
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimPrefix(seg, ":")
		if seg == "" {
			continue
		}
		b.WriteString(strings.ToUpper(seg[:1]))
		b.WriteString(seg[1:])
	}
	return b.String()
}

func buildPathParameters(names []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]interface{}{
			"name":     name,
			"in":       "path",
			"required": true,
			"schema":   map[string]string{"type": "string"},
		})
	}
	return out
}

func buildRequestBody(schema string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{
					"$ref": "#/components/schemas/" + schema,
				},
			},
		},
	}
}

func (g *Generator) buildResponses(status int, schema string) map[string]interface{} {
	ok := map[string]interface{}{"description": http.StatusText(status)}
	if schema != "" {
		ok["content"] = map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": "#/components/schemas/" + schema},
			},
		}
	}
	errorBody := map[string]interface{}{
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": "#/components/schemas/Error"},
			},
		},
	}
	return map[string]interface{}{
		strconv.Itoa(status): ok,
		"400":                withDescription(errorBody, "Bad Request"),
		"404":                withDescription(errorBody, "Not Found"),
	}
}

func withDescription(body map[string]interface{}, desc string) map[string]interface{} {
	out := map[string]interface{}{"description": desc}
	for k, v := range body {
		out[k] = v
	}
	return out
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func enum(values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values}
}

var (
	str     = map[string]string{"type": "string"}
	number  = map[string]string{"type": "number"}
	integer = map[string]string{"type": "integer"}
	boolean = map[string]string{"type": "boolean"}
)

func buildComponentSchemas() map[string]interface{} {
	return map[string]interface{}{
		"Error":          object(map[string]interface{}{"message": str}),
		"SessionCreated": object(map[string]interface{}{"id": str}, "id"),
		"TouchPoint":     object(map[string]interface{}{"x": number, "y": number}, "x", "y"),
		"TouchInput": object(map[string]interface{}{
			"phase":       enum("start", "move", "end", "cancel"),
			"points":      map[string]interface{}{"type": "array", "items": ref("TouchPoint")},
			"timestampMs": integer,
		}, "phase", "timestampMs"),
		"TouchBatch": object(map[string]interface{}{
			"events": map[string]interface{}{"type": "array", "items": ref("TouchInput")},
		}, "events"),
		"GestureEvent": object(map[string]interface{}{
			"kind":        enum("swipe", "tap", "double_tap", "long_press", "pinch", "rotate"),
			"direction":   enum("up", "down", "left", "right"),
			"distance":    number,
			"velocity":    number,
			"scale":       number,
			"angleDeg":    number,
			"timestampMs": integer,
		}, "kind"),
		"TouchResult": object(map[string]interface{}{
			"gestures": map[string]interface{}{"type": "array", "items": ref("GestureEvent")},
			"state":    str,
		}),
		"TelemetryReport": object(map[string]interface{}{
			"connection": object(map[string]interface{}{
				"type":          str,
				"effectiveType": enum("slow-2g", "2g", "3g", "4g"),
				"downlink":      number,
				"rtt":           number,
				"saveData":      boolean,
			}),
			"display": object(map[string]interface{}{
				"devicePixelRatio": number,
				"screenWidth":      integer,
				"screenHeight":     integer,
			}),
			"hardwareConcurrency": integer,
			"serviceWorker":       boolean,
			"heap": object(map[string]interface{}{
				"usedBytes":  integer,
				"limitBytes": integer,
			}),
			"online": boolean,
		}),
		"OnlineStatus": object(map[string]interface{}{"online": boolean}, "online"),
		"Metrics": object(map[string]interface{}{
			"connectionType":   str,
			"effectiveType":    enum("slow-2g", "2g", "3g", "4g", "unknown"),
			"downlinkMbps":     number,
			"rttMs":            number,
			"saveData":         boolean,
			"memoryUsageRatio": number,
			"devicePixelRatio": number,
			"screenSize":       str,
			"isLowEndDevice":   boolean,
		}),
		"Recommendations": object(map[string]interface{}{
			"reduceAnimations":    boolean,
			"reduceMemoryUsage":   boolean,
			"imageQuality":        enum("low", "medium", "high"),
			"videoQuality":        enum("240p", "480p", "720p"),
			"enableOfflineMode":   boolean,
			"loadLazyComponents":  boolean,
			"lazyLoadImages":      boolean,
			"useWebP":             boolean,
			"enableServiceWorker": boolean,
			"compressAssets":      boolean,
			"useCDN":              boolean,
			"enableCaching":       boolean,
			"reduceBundleSize":    boolean,
		}),
		"TelemetryResult": object(map[string]interface{}{
			"metrics":         ref("Metrics"),
			"recommendations": ref("Recommendations"),
		}),
		"OptimizedImage": object(map[string]interface{}{"src": str}),
	}
}

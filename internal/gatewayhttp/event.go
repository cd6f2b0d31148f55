package gatewayhttp

import (
	"encoding/json"
	"io"
	"net/http"
)

// apiGatewayEvent is the API-Gateway-v1-shaped payload handed to every
// function's RIE, matching what a real Lambda-behind-API-Gateway deployment
// would deliver so handlers written against that contract need no changes
// to run against this emulator.
type apiGatewayEvent struct {
	HTTPMethod            string            `json:"httpMethod"`
	Path                  string            `json:"path"`
	Resource              string            `json:"resource"`
	PathParameters        map[string]string `json:"pathParameters,omitempty"`
	QueryStringParameters map[string]string `json:"queryStringParameters,omitempty"`
	Headers               map[string]string `json:"headers"`
	Body                  string            `json:"body"`
	IsBase64Encoded       bool              `json:"isBase64Encoded"`
	RequestContext        requestContext    `json:"requestContext"`
}

type requestContext struct {
	RequestID  string     `json:"requestId"`
	Authorizer authorizer `json:"authorizer"`
}

type authorizer struct {
	CognitoUsername string `json:"cognito:username"`
}

// buildEvent assembles the RIE-facing event for a catch-all route match.
func buildEvent(r *http.Request, resource string, pathParams map[string]string, subject, traceRootID string) (apiGatewayEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return apiGatewayEvent{}, err
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	return apiGatewayEvent{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Resource:              resource,
		PathParameters:        pathParams,
		QueryStringParameters: query,
		Headers:               headers,
		Body:                  string(body),
		RequestContext: requestContext{
			RequestID:  traceRootID,
			Authorizer: authorizer{CognitoUsername: subject},
		},
	}, nil
}

func (e apiGatewayEvent) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// functionResponse is the {statusCode, headers, body} shape a function's RIE
// is expected to return for a catch-all invocation; the Gateway mirrors it
// verbatim onto the client response.
type functionResponse struct {
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded"`
}

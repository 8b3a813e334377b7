package directory

import (
	"encoding/json"
	"fmt"
)

// Directory wire protocol methods.
const (
	MethodRegister   = "REGISTER"
	MethodQuery      = "QUERY"
	MethodDeregister = "DEREGISTER"
)

// Response statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// registerRequest is the REGISTER request payload.
type registerRequest struct {
	Method string `json:"method"`
	Name   string `json:"name"`
	Port   int    `json:"port"`
	TTL    int    `json:"ttl"`
}

func newRegisterRequest(name string, port, ttl int) ([]byte, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("directory: invalid port, got: %d", port)
	}
	return json.Marshal(registerRequest{Method: MethodRegister, Name: name, Port: port, TTL: ttl})
}

// queryRequest is the QUERY request payload.
type queryRequest struct {
	Method string `json:"method"`
	Name   string `json:"name"`
}

func newQueryRequest(name string) ([]byte, error) {
	return json.Marshal(queryRequest{Method: MethodQuery, Name: name})
}

// deregisterRequest is the DEREGISTER request payload.
type deregisterRequest struct {
	Method string `json:"method"`
	Name   string `json:"name"`
}

func newDeregisterRequest(name string) ([]byte, error) {
	return json.Marshal(deregisterRequest{Method: MethodDeregister, Name: name})
}

// okResponse is the successful response envelope.
type okResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// errorResponse is the failed response envelope.
type errorResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

func encodeOK(record Record) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("directory: encode record: %w", err)
	}
	return json.Marshal(okResponse{Status: StatusOK, Data: data})
}

func encodeOKEmpty() ([]byte, error) {
	return json.Marshal(okResponse{Status: StatusOK, Data: json.RawMessage(`{}`)})
}

func encodeError(msg string) ([]byte, error) {
	return json.Marshal(errorResponse{Status: StatusError, Msg: msg})
}

// decodeResponse parses a directory protocol response, returning the
// record on success or an error carrying the server's message on failure.
func decodeResponse(data []byte) (Record, error) {
	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Msg    string          `json:"msg"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Record{}, fmt.Errorf("directory: decode response: %w", err)
	}

	switch envelope.Status {
	case StatusOK:
		var record Record
		if len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, &record); err != nil {
				return Record{}, fmt.Errorf("directory: decode record: %w", err)
			}
		}
		return record, nil
	case StatusError:
		return Record{}, fmt.Errorf("directory: %s", envelope.Msg)
	default:
		return Record{}, fmt.Errorf("directory: invalid response status, got: %s", envelope.Status)
	}
}

// incomingRequest is the generic shape every request shares: a method plus
// whatever fields that method needs, decoded opportunistically by the
// server dispatcher.
type incomingRequest struct {
	Method string `json:"method"`
	Name   string `json:"name"`
	Port   int    `json:"port"`
	TTL    int    `json:"ttl"`
}

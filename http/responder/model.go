package responder

// Response is the envelope of every JSON response.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
	Meta  Meta   `json:"meta"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type Meta struct {
	TraceId string `json:"traceId,omitempty"`
	Took    int64  `json:"took,omitempty"`
	// Count is the number of items in a list response.
	Count *int `json:"count,omitempty"`
}

package response

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": <status text>, "message": <message>}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

type PageInfo struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// PaginatedResponse wraps a list with pagination metadata.
type PaginatedResponse struct {
	Items      any      `json:"items"`
	Pagination PageInfo `json:"pagination"`
}

// WritePaginated writes one page of items out of total.
func WritePaginated(w http.ResponseWriter, status int, items any, total int64, limit, offset int) {
	WriteJSON(w, status, PaginatedResponse{
		Items: items,
		Pagination: PageInfo{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: int64(offset)+int64(limit) < total,
		},
	})
}

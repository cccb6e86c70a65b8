// Package journal accepts subscriber feeling check-ins over HTTP and appends
// them to the history log.
package journal

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/gorilla/mux"

	"github.com/book-expert/reflection-service/internal/core"
)

const thankYouPage = `<!DOCTYPE html>
<html>
<head><title>Thank you</title></head>
<body>
<h1>Thank you for sharing.</h1>
<p>What you wrote will shape tomorrow's reflection.</p>
</body>
</html>`

// historyAppender is the write side of the history store.
type historyAppender interface {
	Append(ctx context.Context, entry core.FeelingEntry) error
}

// Handler records check-in form submissions.
type Handler struct {
	history historyAppender
	log     *logger.Logger
	now     func() time.Time
}

// NewHandler creates a journaling handler.
func NewHandler(history historyAppender, log *logger.Logger) *Handler {
	return &Handler{
		history: history,
		log:     log,
		now:     time.Now,
	}
}

// Register mounts the check-in route on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/feelings", h.recordFeeling).Methods(http.MethodPost)
}

func (h *Handler) recordFeeling(writer http.ResponseWriter, request *http.Request) {
	parseErr := request.ParseForm()
	if parseErr != nil {
		http.Error(writer, "bad form", http.StatusBadRequest)

		return
	}

	email := strings.TrimSpace(request.PostFormValue("email"))
	feeling := strings.TrimSpace(request.PostFormValue("feeling"))

	if email == "" || feeling == "" {
		http.Error(writer, "email and feeling are required", http.StatusBadRequest)

		return
	}

	entry := core.FeelingEntry{
		Subscriber: email,
		Timestamp:  h.now().UTC(),
		Feeling:    feeling,
	}

	appendErr := h.history.Append(request.Context(), entry)
	if appendErr != nil {
		h.log.Error("Failed to record feeling for %s: %v", email, appendErr)
		http.Error(writer, "could not record your response", http.StatusInternalServerError)

		return
	}

	h.log.Info("Recorded check-in for %s", email)

	writer.Header().Set("Content-Type", "text/html; charset=utf-8")

	_, writeErr := writer.Write([]byte(thankYouPage))
	if writeErr != nil {
		h.log.Warn("Failed to write thank-you page: %v", writeErr)
	}
}

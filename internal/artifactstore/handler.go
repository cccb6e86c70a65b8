package artifactstore

import (
	"context"
	"errors"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/gorilla/mux"
)

// artifactGetter is the read side of the store, narrowed for the handler.
type artifactGetter interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// Handler serves stored artifacts to link holders. Signature and expiry are
// enforced here; the store itself has no notion of authorization.
type Handler struct {
	store  artifactGetter
	signer *Signer
	log    *logger.Logger
}

// NewHandler creates an artifact download handler.
func NewHandler(store artifactGetter, signer *Signer, log *logger.Logger) *Handler {
	return &Handler{
		store:  store,
		signer: signer,
		log:    log,
	}
}

// Register mounts the download route on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/artifacts/{key:.+}", h.serveArtifact).Methods(http.MethodGet)
}

func (h *Handler) serveArtifact(writer http.ResponseWriter, request *http.Request) {
	key := mux.Vars(request)["key"]
	query := request.URL.Query()

	verifyErr := h.signer.Verify(key, query.Get("expires"), query.Get("sig"))
	if verifyErr != nil {
		if errors.Is(verifyErr, ErrLinkExpired) {
			h.log.Warn("Rejected expired link for artifact '%s'", key)
		} else {
			h.log.Warn("Rejected artifact request '%s': %v", key, verifyErr)
		}

		http.Error(writer, "forbidden", http.StatusForbidden)

		return
	}

	data, contentType, getErr := h.store.Get(request.Context(), key)
	if getErr != nil {
		h.log.Error("Failed to load artifact '%s': %v", key, getErr)
		http.Error(writer, "not found", http.StatusNotFound)

		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	writer.Header().Set(headerContentType, contentType)

	_, writeErr := writer.Write(data)
	if writeErr != nil {
		h.log.Warn("Failed to stream artifact '%s': %v", key, writeErr)
	}
}

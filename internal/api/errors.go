package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zhe.chen/explaind/internal/pipeline"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string                `json:"error"`
	Kind      pipeline.Kind         `json:"kind,omitempty"`
	Stage     pipeline.Stage        `json:"stage,omitempty"`
	RunID     int64                 `json:"run_id,omitempty"`
	Scene     *pipeline.SceneRecord `json:"scene,omitempty"`
	RequestID string                `json:"request_id,omitempty"`
}

var kindStatus = map[pipeline.Kind]int{
	pipeline.KindInvalidInput:         http.StatusBadRequest,
	pipeline.KindPipelineAborted:      http.StatusBadGateway,
	pipeline.KindBackendUnavailable:   http.StatusBadGateway,
	pipeline.KindBackendTimeout:       http.StatusGatewayTimeout,
	pipeline.KindMalformedResponse:    http.StatusBadGateway,
	pipeline.KindCodeGenerationFailed: http.StatusUnprocessableEntity,
	pipeline.KindRenderFailure:        http.StatusUnprocessableEntity,
	pipeline.KindMuxFailure:           http.StatusUnprocessableEntity,
	pipeline.KindStitchFailure:        http.StatusConflict,
}

// statusFor maps a pipeline error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound), errors.Is(err, pipeline.ErrSceneNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrRunSuperseded):
		return http.StatusGone
	case errors.Is(err, pipeline.ErrSceneBusy),
		errors.Is(err, pipeline.ErrAlreadyRendered),
		errors.Is(err, pipeline.ErrNotRetryable),
		errors.Is(err, pipeline.ErrSourceImmutable):
		return http.StatusConflict
	}
	if status, ok := kindStatus[pipeline.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// abortWithError writes err as an ErrorResponse. scene is attached when the
// failure left a scene in a new state.
func abortWithError(c *gin.Context, err error, scene *pipeline.SceneRecord) {
	resp := ErrorResponse{
		Error:     err.Error(),
		Kind:      pipeline.KindOf(err),
		Stage:     pipeline.StageOf(err),
		Scene:     scene,
		RequestID: requestID(c),
	}
	var abort *pipeline.AbortError
	if errors.As(err, &abort) {
		resp.RunID = abort.RunID
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), resp)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     message,
		Kind:      pipeline.KindInvalidInput,
		RequestID: requestID(c),
	})
}

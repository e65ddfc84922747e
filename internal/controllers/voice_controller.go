package controllers

import (
	"context"
	"net/http"

	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/internal/voice"
	"github.com/stellara-labs/stellara/pkg/stellara/models"
)

type VoiceService interface {
	Create(ctx context.Context, userID int64, audioURL, language string) (*voice.Job, error)
	Get(ctx context.Context, userID, id int64) (*voice.Job, error)
	List(ctx context.Context, userID int64, limit int) ([]voice.Job, error)
}

type VoiceController struct {
	Voice VoiceService
}

func NewVoiceController(service VoiceService) *VoiceController {
	return &VoiceController{Voice: service}
}

// handleCreateJob queues a transcription; progress is pushed on the user's channel.
func (c *VoiceController) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateVoiceJobRequest](r)
	if err != nil {
		writeServiceError(w, r, err, "create voice job")
		return
	}
	job, err := c.Voice.Create(r.Context(), principal(r).UserID, req.AudioURL, req.Language)
	if err != nil {
		writeServiceError(w, r, err, "create voice job")
		return
	}
	util.WriteJSONResponse(w, http.StatusAccepted, job)
}

func (c *VoiceController) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := c.Voice.Get(r.Context(), principal(r).UserID, id)
	if err != nil {
		writeServiceError(w, r, err, "get voice job")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, job)
}

func (c *VoiceController) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := c.Voice.List(r.Context(), principal(r).UserID, int(limit))
	if err != nil {
		writeServiceError(w, r, err, "list voice jobs")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, jobs)
}

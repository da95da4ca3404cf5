package cdr

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"callrecording-platform/pkg/logger"
)

// SecretHeader carries the connection's shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

// WebhookPayload is the CDR body the PBX posts. Timestamps are
// "2006-01-02 15:04:05" in UTC, matching the PBX's CDR export format.
type WebhookPayload struct {
	UniqueID      string `json:"uniqueid" binding:"required"`
	Src           string `json:"src"`
	Dst           string `json:"dst"`
	Disposition   string `json:"disposition"`
	Start         string `json:"start"`
	Answer        string `json:"answer"`
	End           string `json:"end"`
	Duration      int    `json:"duration"`
	BillSec       int    `json:"billsec"`
	RecordingFile string `json:"recordingfile"`
	SrcTrunkName  string `json:"src_trunk_name"`
	DstTrunkName  string `json:"dst_trunk_name"`
}

const cdrTimeLayout = "2006-01-02 15:04:05"

// InferDirection maps the PBX's trunk fields to a call direction: a source
// trunk means the call entered from outside, a destination trunk means it
// left, neither means extension to extension.
func InferDirection(srcTrunk, dstTrunk string) Direction {
	switch {
	case srcTrunk != "":
		return DirectionInbound
	case dstTrunk != "":
		return DirectionOutbound
	default:
		return DirectionInternal
	}
}

func (p WebhookPayload) toInput() (IngestInput, error) {
	start, err := time.Parse(cdrTimeLayout, p.Start)
	if err != nil {
		return IngestInput{}, errors.New("invalid start timestamp")
	}
	end, err := time.Parse(cdrTimeLayout, p.End)
	if err != nil {
		return IngestInput{}, errors.New("invalid end timestamp")
	}
	in := IngestInput{
		UniqueID:          strings.TrimSpace(p.UniqueID),
		Src:               strings.TrimSpace(p.Src),
		Dst:               strings.TrimSpace(p.Dst),
		Direction:         InferDirection(p.SrcTrunkName, p.DstTrunkName),
		Disposition:       p.Disposition,
		StartTime:         start,
		EndTime:           end,
		DurationSeconds:   p.Duration,
		RecordingFilename: strings.TrimSpace(p.RecordingFile),
	}
	if p.Answer != "" {
		if answer, err := time.Parse(cdrTimeLayout, p.Answer); err == nil {
			in.AnswerTime = &answer
		}
	}
	return in, nil
}

// WebhookHandler receives CDR posts from PBXes. No business logic here;
// parsing and transport concerns only, ingestion belongs to Service.
type WebhookHandler struct {
	Service *Service
}

// Handle is POST /webhooks/pbx/:connection_id.
func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	connectionID := c.Param("connection_id")

	var payload WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	in, err := payload.toInput()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Service.Ingest(c.Request.Context(), connectionID, c.GetHeader(SecretHeader), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		case errors.Is(err, ErrInvalidInput):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Error("cdr ingestion failed", "connection_id", connectionID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
		}
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

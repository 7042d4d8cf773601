package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/auth"
	"github.com/your-org/visage/internal/matching"
	"github.com/your-org/visage/internal/recognition"
	"github.com/your-org/visage/pkg/dto"
)

type RecognizeHandler struct {
	svc *recognition.Service
}

func NewRecognizeHandler(svc *recognition.Service) *RecognizeHandler {
	return &RecognizeHandler{svc: svc}
}

// Recognize matches the face of a multipart image. Form fields: image,
// threshold (optional), add_angle (optional). No match is a 200 with
// recognized=false.
func (h *RecognizeHandler) Recognize(c *gin.Context) {
	data, filename, err := readImage(c)
	if err != nil {
		writeError(c, err)
		return
	}
	threshold, err := optionalThreshold(c)
	if err != nil {
		writeError(c, err)
		return
	}
	addAngle, err := optionalBool(c, "add_angle")
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.svc.Recognize(c.Request.Context(), recognition.RecognizeRequest{
		UserID:    auth.UserID(c),
		Filename:  filename,
		Image:     data,
		Threshold: threshold,
		AddAngle:  addAngle,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.RecognizeResponse{
		Recognized: res.Recognized(),
		Outcome:    string(res.Outcome),
		Person:     dto.NewPersonResponse(res.Person),
		Distance:   res.Distance,
		Threshold:  res.Threshold,
		PhotoID:    res.PhotoID,
		Face:       dto.NewFaceResponse(res.Face),
		AngleAdded: res.AngleAdded,
	})
}

// Group matches every usable face of a multipart image.
func (h *RecognizeHandler) Group(c *gin.Context) {
	data, filename, err := readImage(c)
	if err != nil {
		writeError(c, err)
		return
	}
	threshold, err := optionalThreshold(c)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.svc.RecognizeGroup(c.Request.Context(), recognition.GroupRequest{
		UserID:    auth.UserID(c),
		Filename:  filename,
		Image:     data,
		Threshold: threshold,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	faces := make([]dto.GroupFaceResponse, 0, len(res.Faces))
	for _, f := range res.Faces {
		faces = append(faces, dto.GroupFaceResponse{
			Face:       dto.NewFaceResponse(f.Face),
			Recognized: f.Outcome == matching.OutcomeRecognized,
			Outcome:    string(f.Outcome),
			Person:     dto.NewPersonResponse(f.Person),
			Distance:   f.Distance,
		})
	}
	c.JSON(http.StatusOK, dto.GroupResponse{PhotoID: res.PhotoID, Threshold: res.Threshold, Faces: faces})
}

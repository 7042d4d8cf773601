package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visage/internal/auth"
	"github.com/your-org/visage/internal/recognition"
	"github.com/your-org/visage/pkg/dto"
)

type PersonHandler struct {
	svc *recognition.Service
}

func NewPersonHandler(svc *recognition.Service) *PersonHandler {
	return &PersonHandler{svc: svc}
}

// FirstMeeting enrolls the face of a multipart image as a new person.
// Form fields: image, name, context, transcript.
func (h *PersonHandler) FirstMeeting(c *gin.Context) {
	data, filename, err := readImage(c)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.svc.FirstMeeting(c.Request.Context(), recognition.FirstMeetingRequest{
		UserID:     auth.UserID(c),
		Filename:   filename,
		Image:      data,
		Name:       c.PostForm("name"),
		Context:    c.PostForm("context"),
		Transcript: c.PostForm("transcript"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, dto.FirstMeetingResponse{
		Person:       dto.NewPersonResponse(res.Person),
		PhotoID:      res.PhotoID,
		Face:         dto.NewFaceResponse(res.Face),
		Deduplicated: res.Deduplicated,
		Distance:     res.Distance,
	})
}

// List returns the user's people, most recently seen first. ?name= filters
// by case-insensitive substring.
func (h *PersonHandler) List(c *gin.Context) {
	if name := c.Query("name"); name != "" {
		h.search(c, name)
		return
	}

	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		writeError(c, err)
		return
	}

	people, err := h.svc.ListPeople(c.Request.Context(), auth.UserID(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPersonList(people))
}

func (h *PersonHandler) Search(c *gin.Context) {
	h.search(c, c.Query("name"))
}

func (h *PersonHandler) search(c *gin.Context, name string) {
	people, err := h.svc.SearchPeople(c.Request.Context(), auth.UserID(c), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPersonList(people))
}

func (h *PersonHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid person id"})
		return
	}

	person, err := h.svc.GetPerson(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPersonResponse(person))
}

// AddFace stores the face of a multipart image as a further angle of the person.
func (h *PersonHandler) AddFace(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid person id"})
		return
	}

	data, filename, err := readImage(c)
	if err != nil {
		writeError(c, err)
		return
	}

	enc, err := h.svc.AddAngle(c.Request.Context(), recognition.AddAngleRequest{
		UserID:   auth.UserID(c),
		PersonID: id,
		Filename: filename,
		Image:    data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewEncodingResponse(enc))
}

// DeleteByName removes the most recently seen person matching ?name=.
func (h *PersonHandler) DeleteByName(c *gin.Context) {
	person, err := h.svc.DeleteByName(c.Request.Context(), auth.UserID(c), c.Query("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPersonResponse(person))
}

func (h *PersonHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid person id"})
		return
	}

	if err := h.svc.DeletePerson(c.Request.Context(), auth.UserID(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

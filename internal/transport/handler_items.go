package transport

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/session"
	"github.com/pitabwire/console/internal/upload"
	"github.com/pitabwire/console/model"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

type statusRequest struct {
	Status string `json:"status"`
}

func handleCreate(sessions *session.Manager, uploads *upload.Normalizer, cfg config.UploadConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok || !authorize(w, r, s, model.ActionCreate) {
			return
		}
		sub, err := readSubmission(r, s.Definition(), uploads, cfg)
		if err != nil {
			WriteError(w, err)
			return
		}
		if err := s.Create(r.Context(), sub); err != nil {
			WriteError(w, err)
			return
		}
		invalidateOptions(r, sessions, s)
		WriteJSON(w, http.StatusCreated, s.Snapshot())
	}
}

func handleUpdate(sessions *session.Manager, uploads *upload.Normalizer, cfg config.UploadConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok || !authorize(w, r, s, model.ActionUpdate) {
			return
		}
		sub, err := readSubmission(r, s.Definition(), uploads, cfg)
		if err != nil {
			WriteError(w, err)
			return
		}
		if err := s.Update(r.Context(), chi.URLParam(r, "id"), sub); err != nil {
			WriteError(w, err)
			return
		}
		invalidateOptions(r, sessions, s)
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleStatus(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok || !authorize(w, r, s, model.ActionStatus) {
			return
		}
		var req statusRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if err := s.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

// handleRequestConfirmation opens the confirmation step of a destructive
// action. Nothing reaches the backend until the request is confirmed.
func handleRequestConfirmation(sessions *session.Manager, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok || !authorize(w, r, s, action) {
			return
		}
		id := chi.URLParam(r, "id")

		var (
			req model.ConfirmationRequest
			err error
		)
		switch action {
		case model.ActionDelete:
			req, err = s.RequestDelete(id)
		case model.ActionRestore:
			req, err = s.RequestRestore(id)
		default:
			req, err = s.RequestPermanentDelete(id)
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, req)
	}
}

func handleConfirm(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok {
			return
		}
		pending, ok := s.Pending()
		if !ok {
			WriteError(w, model.NewNoConfirmationError())
			return
		}
		if !authorize(w, r, s, pending.Action) {
			return
		}
		if err := s.Confirm(r.Context()); err != nil {
			WriteError(w, err)
			return
		}
		invalidateOptions(r, sessions, s)
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleCancel(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok {
			return
		}
		if err := s.Cancel(); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

// readSubmission decodes a create or update body. JSON bodies are a flat
// object of fields. Multipart bodies carry fields as form values and images
// as file parts, which are normalized before they are forwarded.
func readSubmission(r *http.Request, def *model.ResourceDefinition, uploads *upload.Normalizer, cfg config.UploadConfig) (model.Submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		fields := map[string]any{}
		if err := decodeJSON(r, &fields); err != nil {
			return model.Submission{}, err
		}
		return model.Submission{Fields: fields}, nil
	}

	limit := cfg.MaxBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	r.Body = http.MaxBytesReader(nil, r.Body, limit*int64(len(def.ImageFields)+1))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.Submission{}, model.NewBadRequestError("The upload is too large")
		}
		return model.Submission{}, model.NewBadRequestError(fmt.Sprintf("invalid multipart body: %v", err))
	}
	defer r.MultipartForm.RemoveAll()

	sub := model.Submission{Fields: make(map[string]any, len(r.MultipartForm.Value))}
	for name, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			sub.Fields[name] = values[0]
		}
	}

	var unknown []model.FieldError
	for field, headers := range r.MultipartForm.File {
		if !slices.Contains(def.ImageFields, field) {
			unknown = append(unknown, model.FieldError{
				Field:   field,
				Code:    "UNEXPECTED_FILE",
				Message: field + " does not accept files",
			})
			continue
		}
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			return model.Submission{}, fmt.Errorf("transport: opening upload %s: %w", field, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return model.Submission{}, fmt.Errorf("transport: reading upload %s: %w", field, err)
		}
		sub.Files = append(sub.Files, model.FileUpload{
			Field:       field,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	if len(unknown) > 0 {
		return model.Submission{}, model.NewValidationError(unknown)
	}
	slices.SortFunc(sub.Files, func(a, b model.FileUpload) int {
		return strings.Compare(a.Field, b.Field)
	})

	if uploads != nil {
		if err := uploads.NormalizeAll(&sub); err != nil {
			return model.Submission{}, err
		}
	}
	return sub, nil
}

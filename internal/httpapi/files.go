package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/michael-freling/file-drive/internal/tree"
)

type createFolderRequest struct {
	Name     string  `json:"name" validate:"required"`
	ParentID *string `json:"parent_id" validate:"omitempty,uuid"`
	Kind     string  `json:"kind" validate:"omitempty,eq=folder"`
}

// updateRequest is decoded from the fields present in the body, so that an
// explicit null parent_id can be told apart from a missing one.
type updateRequest struct {
	Name      *string `validate:"omitempty,min=1"`
	ParentID  *string `validate:"omitempty,uuid"`
	hasParent bool
}

func (server *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	var parentID *string
	if value := r.URL.Query().Get("parent_id"); value != "" {
		parentID = &value
	}

	children, err := server.service.ListChildren(r.Context(), ownerFromContext(r.Context()), parentID)
	if err != nil {
		server.writeError(w, r, err)
		return
	}
	writeJSON(w, server.logger, http.StatusOK, children)
}

func (server *Server) get(w http.ResponseWriter, r *http.Request) {
	node, err := server.service.Get(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		server.writeError(w, r, err)
		return
	}
	writeJSON(w, server.logger, http.StatusOK, node)
}

// create makes a file from a multipart upload and a folder from a JSON body.
func (server *Server) create(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		server.upload(w, r)
		return
	}

	var request createFolderRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, multipartOverhead))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		server.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := server.validate.Struct(request); err != nil {
		server.badRequest(w, err.Error())
		return
	}

	node, err := server.service.CreateFolder(r.Context(), ownerFromContext(r.Context()), request.Name, request.ParentID)
	if err != nil {
		server.writeError(w, r, err)
		return
	}
	writeJSON(w, server.logger, http.StatusCreated, node)
}

// upload streams the "file" part into the blob store. The "name" and
// "parent_id" fields must come before it; name defaults to the file name.
func (server *Server) upload(w http.ResponseWriter, r *http.Request) {
	if server.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, server.maxUploadSize+multipartOverhead)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		server.badRequest(w, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}

	var name string
	var parentID *string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			server.badRequest(w, `"file" part is required`)
			return
		}
		if err != nil {
			server.writeError(w, r, fmt.Errorf("reader.NextPart: %w", err))
			return
		}

		switch part.FormName() {
		case "name", "parent_id":
			value, err := io.ReadAll(io.LimitReader(part, 4096))
			if err != nil {
				server.writeError(w, r, fmt.Errorf("io.ReadAll: %w", err))
				return
			}
			if part.FormName() == "name" {
				name = string(value)
			} else if len(value) > 0 {
				id := string(value)
				if err := server.validate.Var(id, "uuid"); err != nil {
					server.badRequest(w, "parent_id must be a uuid")
					return
				}
				parentID = &id
			}
		case "file":
			if name == "" {
				name = part.FileName()
			}
			node, err := server.service.CreateFile(
				r.Context(),
				ownerFromContext(r.Context()),
				name,
				parentID,
				part,
				detectMimeType(name, part.Header.Get("Content-Type")),
			)
			if err != nil {
				server.writeError(w, r, err)
				return
			}
			writeJSON(w, server.logger, http.StatusCreated, node)
			return
		}
		_ = part.Close()
	}
}

func detectMimeType(name string, contentType string) *string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType != "application/octet-stream" {
		return &mediaType
	}
	if byExtension := mime.TypeByExtension(strings.ToLower(path.Ext(name))); byExtension != "" {
		return &byExtension
	}
	if err == nil {
		return &mediaType
	}
	return nil
}

func (server *Server) decodeUpdate(r *http.Request, w http.ResponseWriter) (updateRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, multipartOverhead)).Decode(&fields); err != nil {
		return updateRequest{}, fmt.Errorf("invalid request body: %w", err)
	}

	var request updateRequest
	for field, raw := range fields {
		switch field {
		case "name":
			if err := json.Unmarshal(raw, &request.Name); err != nil || request.Name == nil {
				return updateRequest{}, errors.New("name must be a string")
			}
		case "parent_id":
			if err := json.Unmarshal(raw, &request.ParentID); err != nil {
				return updateRequest{}, errors.New("parent_id must be a string or null")
			}
			request.hasParent = true
		default:
			return updateRequest{}, fmt.Errorf("unknown field %q", field)
		}
	}
	if request.Name == nil && !request.hasParent {
		return updateRequest{}, errors.New("name or parent_id is required")
	}
	if err := server.validate.Struct(request); err != nil {
		return updateRequest{}, err
	}
	return request, nil
}

func (server *Server) update(w http.ResponseWriter, r *http.Request) {
	request, err := server.decodeUpdate(r, w)
	if err != nil {
		server.badRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	node, err := server.service.Update(ctx, ownerFromContext(ctx), chi.URLParam(r, "id"), tree.NodeUpdate{
		Name:         request.Name,
		ParentID:     request.ParentID,
		UpdateParent: request.hasParent,
	})
	if err != nil {
		server.writeError(w, r, err)
		return
	}
	writeJSON(w, server.logger, http.StatusOK, node)
}

func (server *Server) delete(w http.ResponseWriter, r *http.Request) {
	if err := server.service.DeleteRecursive(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		server.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (server *Server) download(w http.ResponseWriter, r *http.Request) {
	node, reader, err := server.service.OpenFile(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		server.writeError(w, r, err)
		return
	}
	defer reader.Close()

	contentType := "application/octet-stream"
	if node.MimeType != nil {
		contentType = *node.MimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": node.Name,
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		// the status is sent already
		server.logger.WarnContext(r.Context(), "failed to send a file",
			"id", node.ID,
			"error", err,
		)
	}
}

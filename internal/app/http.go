package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bagofwords/api/internal/export"
	"bagofwords/api/internal/search"
	"bagofwords/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "instructions":
		s.handleInstructions(w, r, parts[2:])
	case "builds":
		s.handleBuilds(w, r, parts[2:])
	case "evals":
		s.handleEvals(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleInstructions(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body UpsertInstructionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateInstruction(r.Context(), r.URL.Query().Get("organizationId"), body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, renderInstruction(item))

	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListInstructions(r.Context(), r.URL.Query().Get("organizationId"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		rendered := make([]map[string]any, 0, len(items))
		for _, item := range items {
			rendered = append(rendered, renderInstruction(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rendered, "total": len(rendered)})

	case len(parts) == 1 && r.Method == http.MethodGet:
		item, err := s.service.GetInstruction(r.Context(), parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderInstruction(item))

	case len(parts) == 1 && r.Method == http.MethodPut:
		var body UpsertInstructionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.UpdateInstruction(r.Context(), parts[0], body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderInstruction(item))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteInstruction(r.Context(), parts[0]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	case len(parts) == 2 && parts[1] == "versions" && r.Method == http.MethodGet:
		versions, err := s.service.ListVersions(r.Context(), parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		rendered := make([]map[string]any, 0, len(versions))
		for _, version := range versions {
			rendered = append(rendered, renderVersion(version))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rendered, "total": len(rendered)})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBuilds(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			OrganizationID string `json:"organizationId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateBuild(r.Context(), body.OrganizationID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, renderBuild(item))

	case len(parts) == 0 && r.Method == http.MethodGet:
		page, pageSize := queryPage(r)
		items, total, page, pageSize, err := s.service.ListBuilds(r.Context(), r.URL.Query().Get("organizationId"), page, pageSize)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		rendered := make([]map[string]any, 0, len(items))
		for _, item := range items {
			rendered = append(rendered, renderBuild(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": rendered, "total": total, "page": page, "pageSize": pageSize,
		})

	case len(parts) == 1 && parts[0] == "main" && r.Method == http.MethodGet:
		item, err := s.service.GetMainBuild(r.Context(), r.URL.Query().Get("organizationId"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderBuild(item))

	case len(parts) == 1 && parts[0] == "diff" && r.Method == http.MethodGet:
		s.handleDiff(w, r)

	case len(parts) == 1 && r.Method == http.MethodGet:
		item, err := s.service.GetBuild(r.Context(), parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderBuild(item))

	case len(parts) == 2 && parts[1] == "contents" && r.Method == http.MethodGet:
		page, pageSize := queryPage(r)
		items, total, page, pageSize, err := s.service.GetBuildContents(r.Context(), parts[0], page, pageSize)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		rendered := make([]map[string]any, 0, len(items))
		for _, item := range items {
			rendered = append(rendered, renderBuildContent(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": rendered, "total": total, "page": page, "pageSize": pageSize,
		})

	case len(parts) == 2 && parts[1] == "report" && r.Method == http.MethodGet:
		s.handleReport(w, r, parts[0])

	case len(parts) == 2 && r.Method == http.MethodPost:
		s.handleBuildAction(w, r, parts[0], parts[1])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBuildAction(w http.ResponseWriter, r *http.Request, buildID, action string) {
	switch action {
	case "approve":
		item, err := s.service.ApproveBuild(r.Context(), buildID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderBuild(item))

	case "rollback":
		item, err := s.service.RollbackBuild(r.Context(), buildID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, renderBuild(item))

	case "push":
		if !s.checkSyncToken(w, r) {
			return
		}
		var body PushInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.PushBuildToGit(r.Context(), buildID, body.Force)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderBuild(item))

	case "archive":
		if !s.checkSyncToken(w, r) {
			return
		}
		key, err := s.service.ArchiveBuild(r.Context(), buildID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"archived": true, "objectKey": key})

	case "eval":
		var body TriggerEvalInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.TriggerEval(r.Context(), buildID, body.SuiteID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, renderBuild(item))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDiff(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "from and to build ids are required", nil)
		return
	}
	result, err := s.service.DiffBuilds(r.Context(), from, to)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	added, modified, removed := result.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"from":     from,
		"to":       to,
		"added":    result.Added,
		"modified": result.Modified,
		"removed":  result.Removed,
		"counts": map[string]int{
			"added":    added,
			"modified": modified,
			"removed":  removed,
		},
	})
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request, buildID string) {
	format := export.Format(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatHTML
	}
	if format != export.FormatHTML && format != export.FormatPDF {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "format must be html or pdf", nil)
		return
	}
	result, err := s.service.BuildReport(r.Context(), buildID, format)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleEvals(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	status, err := s.service.PollEval(r.Context(), parts[0])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":  status.RunID,
		"status": status.Status,
		"passed": status.Passed,
		"failed": status.Failed,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	organizationID := query.Get("organizationId")
	if organizationID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "organizationId is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	response := s.service.Search(r.Context(), search.Query{
		OrganizationID: organizationID,
		Text:           query.Get("q"),
		Limit:          limit,
		Offset:         offset,
	})
	writeJSON(w, http.StatusOK, response)
}

// checkSyncToken gates the internal push/archive endpoints when a sync
// token is configured.
func (s *HTTPServer) checkSyncToken(w http.ResponseWriter, r *http.Request) bool {
	expected := s.service.SyncToken()
	if expected == "" {
		return true
	}
	if r.Header.Get("x-bow-sync-token") != expected {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid sync token", nil)
		return false
	}
	return true
}

func renderInstruction(item store.Instruction) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"organizationId": item.OrganizationID,
		"text":           item.Text,
		"title":          item.Title,
		"category":       item.Category,
		"status":         item.Status,
		"loadMode":       item.LoadMode,
		"sourceType":     item.SourceType,
		"currentVersion": item.CurrentVersion,
		"contentHash":    item.ContentHash,
		"createdAt":      item.CreatedAt,
		"updatedAt":      item.UpdatedAt,
	}
}

func renderVersion(item store.InstructionVersion) map[string]any {
	return map[string]any{
		"id":            item.ID,
		"instructionId": item.InstructionID,
		"versionNumber": item.VersionNumber,
		"text":          item.Text,
		"title":         item.Title,
		"category":      item.Category,
		"status":        item.Status,
		"loadMode":      item.LoadMode,
		"contentHash":   item.ContentHash,
		"createdAt":     item.CreatedAt,
	}
}

func renderBuild(item store.Build) map[string]any {
	payload := map[string]any{
		"id":             item.ID,
		"organizationId": item.OrganizationID,
		"buildNumber":    item.BuildNumber,
		"isMain":         item.IsMain,
		"status":         item.Status,
		"addedCount":     item.AddedCount,
		"modifiedCount":  item.ModifiedCount,
		"removedCount":   item.RemovedCount,
		"createdAt":      item.CreatedAt,
	}
	if item.GitBranch != "" {
		payload["gitBranch"] = item.GitBranch
	}
	if item.GitPRURL != "" {
		payload["gitPrUrl"] = item.GitPRURL
	}
	if item.GitPushedAt != nil {
		payload["gitPushedAt"] = item.GitPushedAt
	}
	if item.EvalRunID != "" {
		payload["evalRunId"] = item.EvalRunID
		payload["evalStatus"] = item.EvalStatus
		payload["evalPassed"] = item.EvalPassed
		payload["evalFailed"] = item.EvalFailed
	}
	return payload
}

func renderBuildContent(item store.BuildContent) map[string]any {
	return map[string]any{
		"buildId":       item.BuildID,
		"instructionId": item.InstructionID,
		"versionId":     item.VersionID,
		"versionNumber": item.VersionNumber,
		"text":          item.Text,
		"title":         item.Title,
		"category":      item.Category,
		"status":        item.Status,
		"loadMode":      item.LoadMode,
		"contentHash":   item.ContentHash,
	}
}

func queryPage(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	return page, pageSize
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, x-bow-sync-token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		// An absent body on an action endpoint means "defaults".
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

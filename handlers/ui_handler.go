package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/upb/medbot/middleware"
	"github.com/upb/medbot/models"
	"github.com/upb/medbot/services"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageTitle is shown in the browser tab and the page heading
const pageTitle = "MedBot"

type sourceView struct {
	Reference string
	Content   string
	Score     float64
}

type pageData struct {
	Title     string
	Query     string
	MaxLength int
	Answered  bool
	Answer    template.HTML
	Sources   []sourceView
	Error     string
}

// UIHandler serves the question form and renders answers as HTML
type UIHandler struct {
	service   QueryService
	logger    *zap.Logger
	page      *template.Template
	markdown  goldmark.Markdown
	maxLength int
}

// NewUIHandler creates a new UIHandler. maxLength is echoed into the form (0 for none).
func NewUIHandler(service QueryService, maxLength int, logger *zap.Logger) (*UIHandler, error) {
	page, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &UIHandler{
		service: service,
		logger:  logger,
		page:    page,
		// Raw HTML in answers is dropped; goldmark escapes it unless WithUnsafe is set
		markdown:  goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify)),
		maxLength: maxLength,
	}, nil
}

// HandleIndex handles GET /
func (h *UIHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, h.newPage(""))
}

// HandleAsk handles POST / with form field "query"
func (h *UIHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	if err := r.ParseForm(); err != nil {
		data := h.newPage("")
		data.Error = "The form could not be read. Please try again."
		h.render(w, r, http.StatusBadRequest, data)
		return
	}

	query := r.PostFormValue("query")
	data := h.newPage(query)

	answer, err := h.service.Run(ctx, query)
	if err != nil {
		h.logger.Warn("ui query failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		data.Error = failureMessage(err)
		h.render(w, r, StatusForError(err), data)
		return
	}

	data.Answered = true
	data.Answer = h.renderMarkdown(answer.Result)
	data.Sources = sourceViews(answer.SourceDocuments)
	h.render(w, r, http.StatusOK, data)
}

func (h *UIHandler) newPage(query string) pageData {
	return pageData{Title: pageTitle, Query: query, MaxLength: h.maxLength}
}

func (h *UIHandler) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	var buf bytes.Buffer
	if err := h.page.Execute(&buf, data); err != nil {
		h.logger.Error("failed to render page",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *UIHandler) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(text), &buf); err != nil {
		h.logger.Warn("markdown conversion failed, rendering plain text", zap.Error(err))
		return template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>")
	}
	return template.HTML(buf.String())
}

func sourceViews(docs []models.ScoredDocument) []sourceView {
	views := make([]sourceView, 0, len(docs))
	for _, d := range docs {
		views = append(views, sourceView{
			Reference: d.Reference(),
			Content:   strings.TrimSpace(d.Content),
			Score:     d.Score,
		})
	}
	return views
}

// failureMessage is the text shown on the page for each failure kind
func failureMessage(err error) string {
	if isUpstreamError(err) && services.IsTimeout(err) && !services.IsGenerationError(err) {
		return "Looking up your question took too long. Please try again later."
	}
	switch services.GetErrorType(err) {
	case services.ErrorTypeValidation:
		if clientMessage(err) == services.ErrEmptyQuery.Message {
			return "Please enter a question."
		}
		return "Please check your question: " + clientMessage(err) + "."
	case services.ErrorTypeEmbedding:
		return "The question could not be processed because the embedding service is unavailable. Please try again later."
	case services.ErrorTypeRetrieval:
		return "The medical document index is unavailable right now. Please try again later."
	case services.ErrorTypeGeneration:
		if services.IsTimeout(err) {
			return "The language model took too long to answer. Please try a shorter question or try again later."
		}
		return "The language model could not produce an answer. Please try again later."
	default:
		return "Something went wrong while answering your question. Please try again."
	}
}

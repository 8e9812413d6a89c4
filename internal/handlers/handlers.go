package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Brownie44l1/cxr-api/internal/inference"
)

// Service is the part of the orchestrator the HTTP layer needs.
type Service interface {
	Predict(ctx context.Context, req inference.Request) (*inference.Result, error)
	Status() string
}

type Options struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
	// Locale formats the confidence string. Zero means English.
	Locale language.Tag
	Logger *slog.Logger
}

type Handler struct {
	service        Service
	maxUploadBytes int64
	requestTimeout time.Duration
	logger         *slog.Logger
	printer        *message.Printer
}

func NewHandler(service Service, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 16 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Locale == language.Und {
		opts.Locale = language.English
	}
	return &Handler{
		service:        service,
		maxUploadBytes: opts.MaxUploadBytes,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
		printer:        message.NewPrinter(opts.Locale),
	}
}

// PredictResponse keeps the field names existing clients read and adds the
// structured values alongside them.
type PredictResponse struct {
	RequestID    string  `json:"request_id"`
	Prediction   string  `json:"prediction"`
	Confidence   string  `json:"confidence"`
	RiskLevel    string  `json:"risk_level"`
	GradCAMImage *string `json:"gradcam_image"`

	PredictedLabel    string             `json:"predicted_label"`
	ConfidencePercent float64            `json:"confidence_percent"`
	Probabilities     map[string]float64 `json:"probabilities"`
	GradCAMStatus     string             `json:"gradcam_status"`
}

// Routes registers every endpoint on mux, each wrapped with CORS.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", EnableCORS(h.Home))
	mux.HandleFunc("/health", EnableCORS(h.Health))
	mux.HandleFunc("/predict", EnableCORS(h.Predict))
}

func EnableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Chest X-ray pneumonia classifier",
		"endpoints": map[string]string{
			"GET /health":   "service status",
			"POST /predict": "multipart field 'file' with a JPEG or PNG; optional disable_cam=true",
		},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": h.service.Status()})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	reqID := uuid.New().String()[:8]
	logger := h.logger.With("req_id", reqID)
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	skipCAM, _ := strconv.ParseBool(r.FormValue("disable_cam"))
	logger.Info("received file", "filename", header.Filename, "bytes", len(payload), "disable_cam", skipCAM)

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	res, err := h.service.Predict(ctx, inference.Request{Image: payload, SkipExplanation: skipCAM})
	switch {
	case err == nil:
	case errors.Is(err, inference.ErrInvalidImage):
		logger.Warn("invalid image", "err", err)
		respondError(w, http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG")
		return
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("prediction timed out", "err", err)
		respondError(w, http.StatusGatewayTimeout, "Prediction timed out")
		return
	default:
		logger.Error("prediction failed", "err", err)
		respondError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	resp := h.response(reqID, res)
	logger.Info("prediction complete",
		"prediction", resp.Prediction,
		"confidence", resp.Confidence,
		"risk_level", resp.RiskLevel,
		"gradcam", resp.GradCAMStatus,
		"dur_ms", time.Since(start).Milliseconds())
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) response(reqID string, res *inference.Result) PredictResponse {
	resp := PredictResponse{
		RequestID:         reqID,
		Prediction:        res.PredictedLabel.Display(),
		Confidence:        h.printer.Sprintf("%.2f%%", res.ConfidencePercent),
		RiskLevel:         res.RiskTier.String(),
		PredictedLabel:    string(res.PredictedLabel),
		ConfidencePercent: res.ConfidencePercent,
		Probabilities:     res.Probabilities,
		GradCAMStatus:     res.HeatmapStatus,
	}
	if res.Heatmap != nil {
		encoded := base64.StdEncoding.EncodeToString(res.Heatmap)
		resp.GradCAMImage = &encoded
	}
	return resp
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Tutortoise/trash-spawn-service/detections"
	"github.com/Tutortoise/trash-spawn-service/detector"
	"github.com/Tutortoise/trash-spawn-service/events"
	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/Tutortoise/trash-spawn-service/scheduler"
	"github.com/Tutortoise/trash-spawn-service/spawn"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxUploadSize = 10 << 20

type AppState struct {
	Service    *detector.Service
	Scheduler  *scheduler.Scheduler
	Engine     *detections.Engine
	Population *spawn.Population
	Hub        *events.Hub
	Logger     logrus.FieldLogger

	// UploadLimit caps /detect request bodies; zero means maxUploadSize.
	UploadLimit int64
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type strategyRequest struct {
	Strategy string `json:"strategy"`
}

type collectedRequest struct {
	EntityType string `json:"entity_type"`
}

func (s *AppState) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/strategy", s.handleStrategy).Methods("PUT")
	r.HandleFunc("/collected", s.handleCollected).Methods("POST")
	if s.Hub != nil {
		r.Handle("/ws", s.Hub).Methods("GET")
	}
	s.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

func (s *AppState) logTimings(t *models.ProcessingTimings) {
	if t == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"request_id":   t.RequestID,
		"image_decode": t.ImageDecode,
		"preprocess":   t.Preprocess,
		"inference":    t.Inference,
		"postprocess":  t.Postprocess,
		"total":        t.Total,
	}).Debug("processing times")
}

// handleDetect runs the local pipeline on an uploaded image.
func (s *AppState) handleDetect(w http.ResponseWriter, r *http.Request) {
	limit := s.UploadLimit
	if limit <= 0 {
		limit = maxUploadSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var imgBytes []byte
	var err error

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		imgBytes, err = handleJSONRequest(r)
	case "multipart/form-data":
		imgBytes, err = handleMultipartRequest(r, limit)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendErrorResponse(w, "too_large", err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if len(imgBytes) == 0 {
		sendErrorResponse(w, "invalid_request", "empty image", http.StatusBadRequest)
		return
	}

	decodeStart := time.Now()
	img, err := detector.DecodeImage(bytes.NewReader(imgBytes))
	decodeTime := time.Since(decodeStart)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	frame := models.NewFrame(img, models.IdentityPose)
	defer frame.Release()

	result := s.Service.DetectWith(r.Context(), frame, detector.StrategyLocal)
	if result.Timings != nil {
		result.Timings.ImageDecode = decodeTime
		s.logTimings(result.Timings)
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *AppState) handleStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	st, err := detector.ParseStrategy(req.Strategy)
	if err != nil {
		sendErrorResponse(w, "invalid_strategy", err.Error(), http.StatusBadRequest)
		return
	}
	s.Service.SetStrategy(st)
	s.Logger.WithField("strategy", st).Info("detection strategy changed")
	writeJSON(w, http.StatusOK, strategyRequest{Strategy: string(st)})
}

func (s *AppState) handleCollected(w http.ResponseWriter, r *http.Request) {
	var req collectedRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if req.EntityType == "" {
		sendErrorResponse(w, "invalid_request", "entity_type is required", http.StatusBadRequest)
		return
	}
	ok := s.Population.Collected(req.EntityType)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collected": ok,
		"active":    s.Population.Active(),
	})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"strategy": s.Service.Strategy(),
		"engine":   s.engineState(),
	}
	if s.Scheduler != nil {
		response["scheduler"] = s.Scheduler.Stats()
	}
	if lib := detections.LoadedRuntimeLibrary(); lib != "" {
		response["runtime_library"] = lib
	}
	if s.Engine != nil {
		response["pool"] = s.Engine.PoolMetrics()
		response["model_load_time_ms"] = s.Engine.LoadDuration().Milliseconds()
	}
	if s.Population != nil {
		response["population"] = map[string]interface{}{
			"active":  s.Population.Active(),
			"max":     s.Population.Max(),
			"by_type": s.Population.Snapshot(),
		}
	}
	if s.Hub != nil {
		response["clients"] = s.Hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"status":   "ok",
		"engine":   s.engineState(),
		"strategy": s.Service.Strategy(),
	}
	if s.Hub != nil {
		response["hub"] = s.Hub.IsRunning()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) engineState() string {
	if s.Engine == nil {
		return "disabled"
	}
	return s.Engine.State().String()
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.Image == "" {
		return nil, errors.New("image is required")
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

// handleMultipartRequest accepts the image under "image" or "file".
func handleMultipartRequest(r *http.Request, limit int64) ([]byte, error) {
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		file, _, err = r.FormFile("file")
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/auth"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/database"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/registration"
)

const maxBodyBytes = 64 << 10

// Handler serves the REST API under /api.
type Handler struct {
	cameras      *registration.Service
	provisioning database.ProvisioningRepository
	jwt          *auth.JWTManager
	limiter      *ClientLimiter
}

func NewHandler(cameras *registration.Service, provisioning database.ProvisioningRepository, jwt *auth.JWTManager, limiter *ClientLimiter) *Handler {
	return &Handler{
		cameras:      cameras,
		provisioning: provisioning,
		jwt:          jwt,
		limiter:      limiter,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	var register http.Handler = http.HandlerFunc(h.registerCamera)
	if h.limiter != nil {
		register = h.limiter.Middleware(register)
	}
	api.Handle("/camera/register", register).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(h.jwt.Middleware)
	authed.HandleFunc("/cameras", h.listCameras).Methods(http.MethodGet)
	authed.HandleFunc("/camera/{id}/rename", h.renameCamera).Methods(http.MethodPut)
	authed.HandleFunc("/camera/{id}", h.deleteCamera).Methods(http.MethodDelete)
	authed.HandleFunc("/setup", h.createProvisioning).Methods(http.MethodPost)
	authed.HandleFunc("/qr-codes", h.listProvisioning).Methods(http.MethodGet)
	authed.HandleFunc("/qr-codes/{id}", h.deleteProvisioning).Methods(http.MethodDelete)
	authed.HandleFunc("/user", h.currentUser).Methods(http.MethodGet)
}

type registerRequest struct {
	CameraID       string `json:"cameraId"`
	CameraIdentity string `json:"camera_identity"`
}

type registerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// registerCamera is called by cameras, which carry no credential.
func (h *Handler) registerCamera(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Camera ID is required.")
		return
	}

	cameraID := strings.TrimSpace(req.CameraID)
	if cameraID == "" {
		cameraID = strings.TrimSpace(req.CameraIdentity)
	}
	if cameraID == "" {
		writeError(w, http.StatusBadRequest, "Camera ID is required.")
		return
	}

	out, err := h.cameras.EnsureRegistered(r.Context(), cameraID, nil)
	if err != nil {
		log.Error().Err(err).Str("camera_id", cameraID).Msg("Camera registration failed")
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{Status: string(out.Result), Message: out.Message})
}

func (h *Handler) listCameras(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)

	views, err := h.cameras.ListCameras(r.Context(), claims.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to list cameras")
		writeError(w, http.StatusInternalServerError, "Failed to list cameras.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cameras": views})
}

func (h *Handler) renameCamera(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	cameraID := mux.Vars(r)["id"]

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Camera name is required.")
		return
	}

	_, err := h.cameras.Rename(r.Context(), claims.UserID, cameraID, req.Name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Camera renamed successfully."})
	case errors.Is(err, registration.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Camera name is required.")
	default:
		writeOwnershipError(w, err, "Failed to rename camera.")
	}
}

func (h *Handler) deleteCamera(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	cameraID := mux.Vars(r)["id"]

	if err := h.cameras.Remove(r.Context(), claims.UserID, cameraID); err != nil {
		writeOwnershipError(w, err, "Failed to delete camera.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Camera deleted successfully."})
}

func writeOwnershipError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, registration.ErrCameraNotFound):
		writeError(w, http.StatusNotFound, "Camera not found.")
	case errors.Is(err, registration.ErrNotOwner):
		writeError(w, http.StatusForbidden, "Forbidden.")
	default:
		log.Error().Err(err).Msg(fallback)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

type provisioningView struct {
	ID        string    `json:"id"`
	SSID      string    `json:"wifi_ssid"`
	Payload   string    `json:"qr_data"`
	CreatedAt time.Time `json:"created_at"`
}

// PairingPayload is the string a camera scans to join a Wi-Fi network.
func PairingPayload(ssid, password string) string {
	return fmt.Sprintf("S:%s;P:%s", ssid, password)
}

func (h *Handler) createProvisioning(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)

	var req struct {
		SSID     string `json:"wifi_ssid"`
		Password string `json:"wifi_password"`
	}
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.SSID) == "" {
		writeError(w, http.StatusBadRequest, "Wi-Fi SSID is required.")
		return
	}

	record := &database.ProvisioningRecord{
		UserID:  claims.UserID,
		SSID:    req.SSID,
		Payload: PairingPayload(req.SSID, req.Password),
	}
	if err := h.provisioning.Create(r.Context(), record); err != nil {
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to save provisioning record")
		writeError(w, http.StatusInternalServerError, "Failed to generate QR code.")
		return
	}

	log.Info().Str("user_id", claims.UserID).Str("record_id", record.ID).Msg("Provisioning record created")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       record.ID,
		"payload":  record.Payload,
		"message":  "QR code generated and saved! This code can be reused for any camera.",
		"reusable": true,
	})
}

func (h *Handler) listProvisioning(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)

	records, err := h.provisioning.ListByOwner(r.Context(), claims.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to list provisioning records")
		writeError(w, http.StatusInternalServerError, "Failed to fetch QR codes.")
		return
	}

	views := make([]provisioningView, 0, len(records))
	for _, rec := range records {
		views = append(views, provisioningView{ID: rec.ID, SSID: rec.SSID, Payload: rec.Payload, CreatedAt: rec.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"qrCodes": views})
}

func (h *Handler) deleteProvisioning(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)

	err := h.provisioning.Delete(r.Context(), mux.Vars(r)["id"], claims.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "QR code deleted successfully."})
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "QR code not found.")
	default:
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to delete provisioning record")
		writeError(w, http.StatusInternalServerError, "Failed to delete QR code.")
	}
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	writeJSON(w, http.StatusOK, map[string]string{"userId": claims.UserID, "username": claims.Username})
}

// mustClaims is only called behind the JWT middleware.
func mustClaims(r *http.Request) *auth.Claims {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		panic("api: handler reached without authentication")
	}
	return claims
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

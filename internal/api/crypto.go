package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"useradmin/internal/apperr"
	"useradmin/internal/keystore"
	pb "useradmin/pkg/proto"
)

type healthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	KeyFingerprint string `json:"keyFingerprint,omitempty"`
}

type publicKeyResponse struct {
	Data        string `json:"data"`
	Format      string `json:"format"`
	Fingerprint string `json:"fingerprint"`
}

func keysError(err error) error {
	if errors.Is(err, keystore.ErrNotInitialized) {
		return apperr.Unavailable("signing keys are not ready", err)
	}
	return apperr.Internal("key store failure", err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Keys.Info()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			Success: false,
			Error:   "signing keys are not ready",
			Data:    healthResponse{Status: "unavailable", Timestamp: pb.FormatTime(time.Now())},
		})
		return
	}
	writeOK(w, http.StatusOK, "Service is healthy", healthResponse{
		Status:         "ok",
		Timestamp:      pb.FormatTime(time.Now()),
		KeyFingerprint: info.Fingerprint,
	})
}

// handlePublicKey returns the public key as a base64 PublicKeyInfo message.
func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Keys.Info()
	if err != nil {
		writeAppError(w, r, keysError(err))
		return
	}
	msg, err := pb.MarshalPublicKeyInfo(pb.PublicKeyInfo{
		PublicKey:   info.PublicKey,
		Algorithm:   info.Algorithm,
		KeySize:     int32(info.KeySize),
		Timestamp:   pb.FormatTime(info.CreatedAt),
		Curve:       info.Curve,
		Fingerprint: info.Fingerprint,
	})
	if err != nil {
		writeAppError(w, r, apperr.Internal("encoding public key failed", err))
		return
	}
	writeOK(w, http.StatusOK, "Public key retrieved successfully", publicKeyResponse{
		Data:        base64.StdEncoding.EncodeToString(msg),
		Format:      "protobuf",
		Fingerprint: info.Fingerprint,
	})
}

func (s *Server) handlePublicKeyInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Keys.Info()
	if err != nil {
		writeAppError(w, r, keysError(err))
		return
	}
	writeOK(w, http.StatusOK, "Public key information retrieved successfully", info)
}

func (s *Server) handleKeyHistory(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Keys.History()
	if err != nil {
		writeAppError(w, r, apperr.Internal("reading key history failed", err))
		return
	}
	writeOK(w, http.StatusOK, "Key history retrieved successfully", keys)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Keys.Rotate(); err != nil {
		writeAppError(w, r, keysError(err))
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.KeyRotations.Inc()
	}
	info, err := s.deps.Keys.Info()
	if err != nil {
		writeAppError(w, r, keysError(err))
		return
	}
	log.InfoContext(r.Context(), "signing key rotated", "fingerprint", info.Fingerprint)
	writeOK(w, http.StatusOK, "Signing key rotated", info)
}
